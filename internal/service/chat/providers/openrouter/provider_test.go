package openrouter

import (
	"errors"
	"testing"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestTranslatorMapsDeltas(t *testing.T) {
	tr := newTranslator()

	var got []chatService.StreamEvent
	for _, ev := range []llmprovider.StreamEvent{
		{Delta: &llmprovider.BlockDelta{BlockIndex: 0, BlockType: strPtr("thinking"), DeltaType: "text_delta", TextDelta: strPtr("hmm ")}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 0, DeltaType: "thinking_delta", TextDelta: strPtr("ok")}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 1, BlockType: strPtr("text"), DeltaType: "text_delta", TextDelta: strPtr("The ")}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 2, DeltaType: "tool_call_start", ToolCallID: strPtr("call_1"), ToolCallName: strPtr("search")}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 2, DeltaType: "input_json_delta", JSONDelta: strPtr(`{"q":`)}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 2, DeltaType: "input_json_delta", JSONDelta: strPtr(`"paris"}`)}},
		{Metadata: &llmprovider.StreamMetadata{Model: "google/gemini-2.0-flash-001", StopReason: "stop", InputTokens: 4, OutputTokens: 9}},
	} {
		got = append(got, tr.translate(ev)...)
	}

	kinds := make([]chatService.EventKind, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind
	}
	require.Equal(t, []chatService.EventKind{
		chatService.EventReasoningDelta,
		chatService.EventReasoningDelta,
		chatService.EventTextDelta,
		chatService.EventToolCall,
		chatService.EventFinish,
	}, kinds)
	require.Equal(t, "The ", got[2].Text)
	require.Equal(t, "search", got[3].ToolCall.Name)
	require.JSONEq(t, `{"q":"paris"}`, string(got[3].ToolCall.Args))
	require.Equal(t, "stop", got[4].Finish.StopReason)
	require.Equal(t, 9, got[4].Finish.OutputTokens)
}

func TestTranslatorError(t *testing.T) {
	tr := newTranslator()
	got := tr.translate(llmprovider.StreamEvent{Error: errors.New("upstream returned 429 Too Many Requests")})
	require.Len(t, got, 1)
	require.Equal(t, chatService.EventError, got[0].Kind)

	var perr *chatService.ProviderError
	require.ErrorAs(t, got[0].Err, &perr)
	require.Equal(t, 429, perr.StatusCode)
}

func TestConvertRequest(t *testing.T) {
	temp := 0.3
	req := convertRequest(&chatService.GenerateRequest{
		Model:  "google/gemini-2.0-flash-001",
		System: "base",
		Messages: []chatService.PromptMessage{
			{Role: chatModels.RoleSystem, Content: "extra"},
			{Role: chatModels.RoleUser, Content: "Tell me about France"},
			{Role: chatModels.RoleAssistant, Content: "  "},
		},
		Params:   chatModels.ModelParams{Temperature: &temp},
		Thinking: true,
	})

	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0].Role)
	require.Equal(t, "Tell me about France", *req.Messages[0].Blocks[0].TextContent)
	require.Equal(t, "base\n\nextra", *req.Params.System)
	require.Equal(t, 0.3, *req.Params.Temperature)
	require.True(t, *req.Params.ThinkingEnabled)
}

func TestStatusFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"status 503: overloaded", 503},
		{"took 120 ms", 0},
		{"no code", 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFromMessage(tt.msg), tt.msg)
	}
}
