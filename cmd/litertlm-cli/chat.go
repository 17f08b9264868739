package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tom-google/litertlm-go/litert/bundle"
	"github.com/tom-google/litertlm-go/litert/convo"
	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/manager"
	"github.com/tom-google/litertlm-go/litert/session"
	"github.com/tom-google/litertlm-go/litert/telemetry"
	"github.com/tom-google/litertlm-go/litert/template"
	"github.com/tom-google/litertlm-go/litert/tokenizer"
)

const (
	colorUser      = "\033[1;32m"
	colorAssistant = "\033[1;34m"
	colorDim       = "\033[2m"
	colorReset     = "\033[0m"
)

// chatOptions holds buildChatCmd's flags.
type chatOptions struct {
	manifestPath string
	maxTokens    int
	vocabSize    int
	fenceStart   string
	fenceEnd     string
	otlpEndpoint string
	rateLimit    float64
	rateBurst    int
}

// buildChatCmd builds the interactive chat subcommand, following
// digitallysavvy-go-ai/examples/cli-chat/main.go's REPL loop (ANSI-colored
// prompts, slash commands, streamed assistant output).
func buildChatCmd(logger zerolog.Logger) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the in-process demo backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.manifestPath, "manifest", "", "path to a JSON model manifest (see litert/bundle); omit to use built-in defaults")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 4096, "maximum context length")
	cmd.Flags().IntVar(&opts.vocabSize, "vocab", 512, "demo backend vocabulary size")
	cmd.Flags().StringVar(&opts.fenceStart, "fence-start", "```tool_call\n", "tool-call fence open delimiter")
	cmd.Flags().StringVar(&opts.fenceEnd, "fence-end", "```", "tool-call fence close delimiter")
	cmd.Flags().StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector endpoint for trace export; omit to disable tracing")
	cmd.Flags().Float64Var(&opts.rateLimit, "rate-limit", 0, "max task admissions per second; 0 disables admission limiting")
	cmd.Flags().IntVar(&opts.rateBurst, "rate-burst", 4, "admission limiter burst size")
	return cmd
}

// conversationHandle bundles the pieces runChat rebuilds on /clear.
type conversationHandle struct {
	mgr  *manager.ExecutionManager
	conv *convo.Conversation
}

func newConversationHandle(opts *chatOptions, logger zerolog.Logger) (*conversationHandle, error) {
	settings := core.ExecutorSettings{
		Backend:           core.BackendCPU,
		PrefillChunkSizes: []int{32},
		Mask:              core.MaskCausal,
		MaxNumTokens:      opts.maxTokens,
	}
	runner := core.NewStubRunner(opts.vocabSize)
	exec := core.NewExecutor(runner, settings, map[string][]int{"layer0": {4, 64}}, 1)

	var mgrOpts []manager.Option
	if opts.rateLimit > 0 {
		mgrOpts = append(mgrOpts, manager.WithAdmissionLimit(opts.rateLimit, opts.rateBurst))
	}
	mgr := manager.New(exec, mgrOpts...)

	sessionConfig := core.DefaultSessionConfig()
	sessionConfig.MaxOutputTokens = 64
	if opts.manifestPath != "" {
		assets, err := bundle.Load(opts.manifestPath)
		if err != nil {
			mgr.Close()
			return nil, err
		}
		sessionConfig.StartTokenID = assets.StartTokenID
		sessionConfig.StopTokenIDs = assets.StopTokenIDs
	}

	tok := tokenizer.NewByteTokenizer()
	sess := session.New(mgr, sessionConfig, map[string][]int{"layer0": {4, 64}}, template.Gemma(), tokenizer.NewPreprocessor(tok), tok.Decode)

	sessionID := uuid.New().String()
	benchmark := telemetry.New(logger, nil, sessionID)
	conv := convo.New(sess, opts.fenceStart, opts.fenceEnd, nil, benchmark)

	return &conversationHandle{mgr: mgr, conv: conv}, nil
}

func (h *conversationHandle) Close() {
	if h.mgr != nil {
		h.mgr.Close()
	}
}

// runChat drives the REPL loop.
func runChat(ctx context.Context, logger zerolog.Logger, opts *chatOptions) error {
	if opts.otlpEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, opts.otlpEndpoint)
		if err != nil {
			return fmt.Errorf("build tracer provider: %w", err)
		}
		telemetry.SetGlobalTracer(tp.Tracer())
		defer tp.Shutdown(ctx)
	}

	handle, err := newConversationHandle(opts, logger)
	if err != nil {
		return err
	}
	defer handle.Close()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("litertlm-cli interactive chat")
	fmt.Println("Commands: /exit, /clear, /help")

	for {
		fmt.Printf("\n%sYou:%s ", colorUser, colorReset)
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", readErr)
			continue
		}
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "/") {
			done, newHandle, cmdErr := handleCommand(line, handle, opts, logger)
			if cmdErr != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", cmdErr)
				continue
			}
			if newHandle != nil {
				handle.Close()
				handle = newHandle
			}
			if done {
				return nil
			}
			continue
		}
		if line == "" {
			continue
		}

		if err := sendAndStream(ctx, handle.conv, line); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		}
	}
}

// sendAndStream sends text as a user turn and prints the assistant reply
// as it streams in, blocking until the turn completes.
func sendAndStream(ctx context.Context, conv *convo.Conversation, text string) error {
	fmt.Printf("\n%sAssistant:%s ", colorAssistant, colorReset)

	done := make(chan error, 1)
	stream := func(chunk string) { fmt.Print(chunk) }
	callback := func(reply convo.Message, err error) {
		fmt.Println()
		if len(reply.ToolCalls) > 0 {
			for _, call := range reply.ToolCalls {
				fmt.Printf("%s(tool call: %s)%s\n", colorDim, call.Name, colorReset)
			}
		}
		done <- err
	}

	groupID := uuid.New().String()
	if err := conv.SendMessageAsync(ctx, convo.NewUserMessage(text), convo.OptionalArgs{TaskGroupID: groupID}, stream, callback); err != nil {
		return err
	}
	return <-done
}

// handleCommand processes a slash command, following
// digitallysavvy-go-ai/examples/cli-chat/main.go's handleCommand. It
// returns (exit, replacementHandle, error); replacementHandle is non-nil
// only for /clear, which rebuilds the whole session/conversation to reset
// history (session.Session has no in-place reset).
func handleCommand(cmd string, handle *conversationHandle, opts *chatOptions, logger zerolog.Logger) (bool, *conversationHandle, error) {
	switch cmd {
	case "/exit":
		fmt.Println("\nGoodbye")
		return true, nil, nil

	case "/clear":
		newHandle, err := newConversationHandle(opts, logger)
		if err != nil {
			return false, nil, err
		}
		fmt.Println("\nConversation history cleared")
		return false, newHandle, nil

	case "/help":
		fmt.Println("\nAvailable commands:")
		fmt.Println("  /exit    - Exit the chat")
		fmt.Println("  /clear   - Clear conversation history")
		fmt.Println("  /help    - Show this help message")
		return false, nil, nil

	default:
		fmt.Printf("\nUnknown command: %s (use /help for available commands)\n", cmd)
		return false, nil, nil
	}
}
