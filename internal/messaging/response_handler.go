package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// InboundHandler processes one inbound message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) error
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, msg models.InboundMessage) error

func (f InboundHandlerFunc) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	return f(ctx, msg)
}

// ReceiptHandler records delivery receipts.
type ReceiptHandler interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
}

// ResponseHandler pumps a Service's channels into handlers.
type ResponseHandler struct {
	msgService Service
	inbound    InboundHandler
	receipts   ReceiptHandler
	wg         sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler. receipts may be nil, in which
// case receipts are drained and discarded.
func NewResponseHandler(msgService Service, inbound InboundHandler, receipts ReceiptHandler) *ResponseHandler {
	return &ResponseHandler{msgService: msgService, inbound: inbound, receipts: receipts}
}

// Start begins processing responses and receipts from the messaging service.
// This should be called once.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	rh.wg.Add(2)
	go func() {
		defer rh.wg.Done()
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.inbound.HandleInbound(ctx, msg); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", msg.From)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer rh.wg.Done()
		for {
			select {
			case r, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				if rh.receipts == nil {
					continue
				}
				if err := rh.receipts.AddReceipt(ctx, r); err != nil {
					slog.Error("ResponseHandler failed to record receipt", "error", err, "to", r.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until both processing loops have exited.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
