//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecsMu sync.RWMutex
	codecs   = make(map[string]tokenizer.Codec)
)

func codecFor(modelName string) (tokenizer.Codec, error) {
	codecsMu.RLock()
	enc, ok := codecs[modelName]
	codecsMu.RUnlock()
	if ok {
		return enc, nil
	}
	enc, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		// Non-OpenAI models fall back to cl100k_base.
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, err
		}
	}
	codecsMu.Lock()
	codecs[modelName] = enc
	codecsMu.Unlock()
	return enc, nil
}

// CountTokens estimates the number of tokens of text for modelName. It is
// used when a provider does not report usage.
func CountTokens(modelName, text string) int {
	if text == "" {
		return 0
	}
	enc, err := codecFor(modelName)
	if err != nil {
		return len(text) / 4
	}
	toks, _, err := enc.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(toks)
}

// FillUsage completes missing usage figures with tiktoken estimates.
func FillUsage(modelName, prompt string, resp *Response) {
	if resp == nil {
		return
	}
	if resp.Usage.PromptTokens == 0 {
		resp.Usage.PromptTokens = CountTokens(modelName, prompt)
	}
	if resp.Usage.CompletionTokens == 0 {
		resp.Usage.CompletionTokens = CountTokens(modelName, resp.Text)
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
}
