//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

const (
	groupChatManagerRole = "You are the group chat manager. Review the contributions of the other " +
		"agents, summarize the progress so far and decide what should happen next."

	docAwareInstruction = "Use the reference documents below when they are relevant and cite their " +
		"source. If they do not answer the question, say so."

	// DefaultSelfReflectionPrompt asks an agent to improve its own output.
	DefaultSelfReflectionPrompt = "Review your previous response for correctness, completeness and " +
		"clarity. Provide an improved version."

	// DefaultCrossReflectionPrompt asks a reviewer for feedback.
	DefaultCrossReflectionPrompt = "Review the response above and give specific, actionable feedback " +
		"on how to improve it."
)

// instructions returns the node specific instructions, role included.
func instructions(n *workflow.Node) string {
	var parts []string
	if s := strings.TrimSpace(n.Data.Instructions); s != "" {
		parts = append(parts, s)
	} else if s := strings.TrimSpace(n.Data.Prompt); s != "" && n.Type.IsAgent() {
		parts = append(parts, s)
	}
	if n.Type.Kind() == workflow.KindGroupChatManager {
		parts = append(parts, groupChatManagerRole)
	}
	return strings.Join(parts, "\n\n")
}

func writeSection(sb *strings.Builder, s string) {
	if s == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}

func conversation(transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ""
	}
	return "Conversation so far:\n" + transcript
}

// turnPrompt is the prompt of a regular agent turn.
func turnPrompt(n *workflow.Node, transcript string) string {
	var sb strings.Builder
	writeSection(&sb, instructions(n))
	writeSection(&sb, conversation(transcript))
	writeSection(&sb, fmt.Sprintf("Please respond as %s.", n.Name()))
	return sb.String()
}

// revisionPrompt asks n to revise previous using feedback. The final variant
// is used after human feedback and asks for the definitive answer.
func revisionPrompt(n *workflow.Node, transcript, previous, reviewer, feedback string, final bool) string {
	var sb strings.Builder
	writeSection(&sb, instructions(n))
	writeSection(&sb, conversation(transcript))
	writeSection(&sb, "Your previous response:\n"+previous)
	if reviewer != "" {
		writeSection(&sb, fmt.Sprintf("Feedback from %s:\n%s", reviewer, feedback))
	} else {
		writeSection(&sb, feedback)
	}
	if final {
		writeSection(&sb, fmt.Sprintf("Here is the feedback on your work. Provide your final response as %s.", n.Name()))
	} else {
		writeSection(&sb, fmt.Sprintf("Please revise your response taking the feedback into account. Respond as %s.", n.Name()))
	}
	return sb.String()
}

// feedbackPrompt asks reviewer to comment on the message of source.
func feedbackPrompt(reviewer *workflow.Node, source, message, recent, reflectionPrompt string) string {
	var sb strings.Builder
	writeSection(&sb, instructions(reviewer))
	if recent = strings.TrimSpace(recent); recent != "" {
		writeSection(&sb, "Recent conversation:\n"+recent)
	}
	writeSection(&sb, fmt.Sprintf("%s said:\n%s", source, message))
	writeSection(&sb, reflectionPrompt)
	writeSection(&sb, fmt.Sprintf("Please respond as %s.", reviewer.Name()))
	return sb.String()
}
