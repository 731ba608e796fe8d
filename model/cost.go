//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package model

import "strings"

// Price is the USD price per 1K tokens.
type Price struct {
	Input  float64
	Output float64
}

// prices is keyed by model name prefix; the longest matching prefix wins.
var prices = map[string]Price{
	"gpt-4o-mini":       {Input: 0.00015, Output: 0.0006},
	"gpt-4o":            {Input: 0.0025, Output: 0.01},
	"gpt-4.1-mini":      {Input: 0.0004, Output: 0.0016},
	"gpt-4.1":           {Input: 0.002, Output: 0.008},
	"gpt-4-turbo":       {Input: 0.01, Output: 0.03},
	"gpt-4":             {Input: 0.03, Output: 0.06},
	"gpt-3.5-turbo":     {Input: 0.0005, Output: 0.0015},
	"o1-mini":           {Input: 0.0011, Output: 0.0044},
	"o1":                {Input: 0.015, Output: 0.06},
	"o3-mini":           {Input: 0.0011, Output: 0.0044},
	"claude-3-5-haiku":  {Input: 0.0008, Output: 0.004},
	"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-7-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
	"claude-3-opus":     {Input: 0.015, Output: 0.075},
	"claude-sonnet-4":   {Input: 0.003, Output: 0.015},
	"claude-opus-4":     {Input: 0.015, Output: 0.075},
	"gemini-1.5-flash":  {Input: 0.000075, Output: 0.0003},
	"gemini-1.5-pro":    {Input: 0.00125, Output: 0.005},
	"gemini-2.0-flash":  {Input: 0.0001, Output: 0.0004},
	"gemini-2.5-flash":  {Input: 0.0003, Output: 0.0025},
	"gemini-2.5-pro":    {Input: 0.00125, Output: 0.01},
}

// MatchPrefix returns the value whose key is the longest prefix of name.
func MatchPrefix[T any](table map[string]T, name string) (T, bool) {
	var (
		best    T
		bestLen = -1
	)
	name = strings.ToLower(name)
	for prefix, v := range table {
		if len(prefix) > bestLen && strings.HasPrefix(name, prefix) {
			best, bestLen = v, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// EstimateCost returns the USD cost of a call, zero for unknown models.
func EstimateCost(modelName string, usage Usage) float64 {
	p, ok := MatchPrefix(prices, modelName)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*p.Input + float64(usage.CompletionTokens)/1000*p.Output
}
