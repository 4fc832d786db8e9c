/*
包 prompt 提供 Prompt 模板的解析与查找。

# 概述

本地 YAML 目录（FileSource，缺省使用内嵌的 prompts.yaml）是唯一的
键来源；每个条目可通过 registry_prompt 关联远程注册表（RedisRegistry）
中的同名模板。Manager 优先读取远程模板，失败时记录告警并回退到本地模板。

# 错误语义

  - PROMPT_NOT_FOUND：键未在目录中定义。
  - PROMPT_INVALID：条目缺少模板或目录无法解析。
*/
package prompt
