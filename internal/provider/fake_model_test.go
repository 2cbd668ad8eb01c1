package provider

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel is a scripted eino ToolCallingChatModel.
type fakeChatModel struct {
	mu sync.Mutex

	reply     *schema.Message
	replyErr  error
	chunks    []*schema.Message
	streamErr error // returned by Stream itself
	brokenAt  int   // >0: stream fails after this many chunks

	boundTools  []*schema.ToolInfo
	generated   int
	streamed    int
	lastHistory []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	f.lastHistory = input
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	return f.reply, nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed++
	f.lastHistory = input
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.brokenAt == 0 {
		return schema.StreamReaderFromArray(f.chunks), nil
	}

	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for i, c := range f.chunks {
			if i == f.brokenAt {
				sw.Send(nil, errBroken)
				return
			}
			sw.Send(c, nil)
		}
	}()
	return sr, nil
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boundTools = tools
	return f, nil
}
