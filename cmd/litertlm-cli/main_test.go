package main

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBuildRootCmdIncludesChatSubcommand(t *testing.T) {
	cmd := buildRootCmd(zerolog.Nop())
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["chat"] {
		t.Fatalf("expected subcommand %q to be registered", "chat")
	}
}

func TestBuildChatCmdRegistersExpectedFlags(t *testing.T) {
	cmd := buildChatCmd(zerolog.Nop())
	for _, name := range []string{"manifest", "max-tokens", "vocab", "fence-start", "fence-end", "otlp-endpoint", "rate-limit", "rate-burst"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected flag %q to be registered", name)
		}
	}
}

func TestNewConversationHandleBuildsWithoutManifest(t *testing.T) {
	opts := &chatOptions{maxTokens: 128, vocabSize: 64, fenceStart: "```tool_call\n", fenceEnd: "```"}
	handle, err := newConversationHandle(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("newConversationHandle: %v", err)
	}
	defer handle.Close()
	if handle.conv == nil {
		t.Fatal("expected a non-nil conversation")
	}
}

func TestNewConversationHandleRejectsMissingManifest(t *testing.T) {
	opts := &chatOptions{maxTokens: 128, vocabSize: 64, manifestPath: "/nonexistent/manifest.json"}
	if _, err := newConversationHandle(opts, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for a missing manifest file")
	}
}
