package openai

import (
	"context"

	"github.com/openai/openai-go"
)

type fakeClient struct {
	calls int
	resp  *openai.ChatCompletion
	err   error
}

func (f *fakeClient) createChatCompletion(_ context.Context, _ openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return &openai.ChatCompletion{}, nil
	}
	return f.resp, nil
}
