//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package provider

// Completion token ceilings per provider, keyed by model family prefix.
var tokenCeilings = map[string]map[string]int{
	"openai": {
		"gpt-4o":        16384,
		"gpt-4.1":       32768,
		"gpt-4-turbo":   4096,
		"gpt-4":         8192,
		"gpt-3.5-turbo": 4096,
		"o1":            32768,
		"o3":            32768,
		"o4":            32768,
	},
	"anthropic": {
		"claude-3-5":      8192,
		"claude-3-7":      8192,
		"claude-sonnet-4": 32000,
		"claude-opus-4":   32000,
		"claude-3":        4096,
	},
	"gemini": {
		"gemini-1.5":   8192,
		"gemini-2.0":   8192,
		"gemini-2.5":   65536,
		"gemini-1.0":   2048,
		"gemini-pro":   2048,
		"gemini-ultra": 2048,
	},
}

// Ceiling used when no family prefix matches.
var defaultTokenCeilings = map[string]int{
	"openai":    4096,
	"anthropic": 4096,
	"gemini":    8192,
	"ollama":    4096,
}

// Model used when a node leaves its model empty.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-sonnet-latest",
	"gemini":    "gemini-1.5-flash",
	"ollama":    "llama3.2",
}

// fallbackTokenCeiling applies to providers registered without a table.
const fallbackTokenCeiling = 4096
