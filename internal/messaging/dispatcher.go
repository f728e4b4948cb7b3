package messaging

import (
	"context"
	"log/slog"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// MessageHandler processes one inbound message and returns the reply to
// send. The flow engine implements this.
type MessageHandler interface {
	HandleMessage(ctx context.Context, resp models.Response) (string, error)
}

// Dispatcher pumps inbound messages from a Service into a MessageHandler and
// sends the resulting replies back out.
type Dispatcher struct {
	service Service
	handler MessageHandler
	done    chan struct{}
}

// NewDispatcher creates a dispatcher connecting a transport to a handler.
func NewDispatcher(service Service, handler MessageHandler) *Dispatcher {
	slog.Debug("messaging.NewDispatcher: creating dispatcher", "hasService", service != nil, "hasHandler", handler != nil)
	return &Dispatcher{
		service: service,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. It returns immediately; the loop runs
// until the context is cancelled or the service's channel closes.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Done is closed when the dispatch loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	slog.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping, context cancelled")
			return
		case resp, ok := <-d.service.Responses():
			if !ok {
				slog.Info("Dispatcher stopping, responses channel closed")
				return
			}
			d.dispatch(ctx, resp)
		}
	}
}

// dispatch handles one inbound message. Failures are logged, never fatal to
// the loop.
func (d *Dispatcher) dispatch(ctx context.Context, resp models.Response) {
	canonical, err := d.service.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("Dispatcher dropping message with invalid sender", "error", err, "from", resp.From)
		return
	}
	resp.From = canonical

	reply, err := d.handler.HandleMessage(ctx, resp)
	if err != nil {
		slog.Error("Dispatcher handler failed", "error", err, "from", resp.From)
		return
	}
	if reply == "" {
		slog.Debug("Dispatcher no reply for message", "from", resp.From)
		return
	}
	if err := d.service.SendMessage(ctx, resp.From, reply); err != nil {
		slog.Error("Dispatcher failed to send reply", "error", err, "to", resp.From)
	}
}
