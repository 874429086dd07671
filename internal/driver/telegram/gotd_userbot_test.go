package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGotdUserbotSourceConsume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		run           func(ctx context.Context, fn func(context.Context) error) error
		rawUpdates    []any
		mapResult     ChannelEvent
		mapAccepted   bool
		mapErr        error
		handlerErr    error
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name: "context cancellation exits cleanly",
			run: func(ctx context.Context, fn func(context.Context) error) error {
				cancelCtx, cancel := context.WithCancel(ctx)
				cancel()
				return fn(cancelCtx)
			},
			wantErr: false,
		},
		{
			name: "handler failure is wrapped",
			run: func(ctx context.Context, fn func(context.Context) error) error {
				return fn(ctx)
			},
			rawUpdates: []any{"raw-1"},
			mapResult: ChannelEvent{
				Kind: EventMessage,
			},
			mapAccepted:   true,
			handlerErr:    errors.New("handler failed"),
			wantErr:       true,
			wantErrSubstr: "consume gotd update message",
		},
		{
			name: "mapper failure is wrapped",
			run: func(ctx context.Context, fn func(context.Context) error) error {
				return fn(ctx)
			},
			rawUpdates:    []any{"raw-2"},
			mapErr:        errors.New("map failed"),
			wantErr:       true,
			wantErrSubstr: "map gotd update",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			updates := make(chan any, len(testCase.rawUpdates))
			for _, raw := range testCase.rawUpdates {
				updates <- raw
			}
			close(updates)

			source, err := NewGotdUserbotSource(
				gotdTestClient{run: testCase.run},
				gotdTestStream{updates: updates},
				gotdTestMapper{
					result:   testCase.mapResult,
					accepted: testCase.mapAccepted,
					err:      testCase.mapErr,
				},
			)
			if err != nil {
				t.Fatalf("new source failed: %v", err)
			}

			err = source.Consume(context.Background(), func(_ context.Context, _ ChannelEvent) error {
				return testCase.handlerErr
			})

			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErrSubstr != "" && (err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr)) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
			}
		})
	}
}

func TestGotdUserbotSourceMarksConnectedBeforeConsuming(t *testing.T) {
	t.Parallel()

	updates := make(chan any, 1)
	updates <- "raw"
	close(updates)

	var order []string
	source, err := NewGotdUserbotSource(
		gotdTestClient{run: func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}},
		gotdTestStream{updates: updates},
		gotdTestMapper{result: ChannelEvent{Kind: EventEdit, ChannelID: 1}, accepted: true},
		WithConnectedHook(func(context.Context) {
			order = append(order, "connected")
		}),
	)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	err = source.Consume(context.Background(), func(_ context.Context, event ChannelEvent) error {
		order = append(order, string(event.Kind))
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if strings.Join(order, ",") != "connected,edit" {
		t.Fatalf("order = %v, want connected then edit", order)
	}
}

func TestGotdUserbotSourceRecoversMapperPanic(t *testing.T) {
	t.Parallel()

	updates := make(chan any, 1)
	updates <- "raw"
	close(updates)

	source, err := NewGotdUserbotSource(
		gotdTestClient{run: func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}},
		gotdTestStream{updates: updates},
		panickingMapper{},
	)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	err = source.Consume(context.Background(), func(context.Context, ChannelEvent) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("error = %v, want recovered panic", err)
	}
}

type panickingMapper struct{}

func (panickingMapper) Map(context.Context, any) (ChannelEvent, bool, error) {
	panic("boom")
}

func TestChannelSourceConsume(t *testing.T) {
	t.Parallel()

	events := make(chan ChannelEvent, 2)
	events <- ChannelEvent{Kind: EventDelete, ChannelID: 1}
	events <- ChannelEvent{Kind: EventPin, ChannelID: 1}
	close(events)

	var kinds []EventKind
	err := ChannelSource{Events: events}.Consume(context.Background(), func(_ context.Context, event ChannelEvent) error {
		kinds = append(kinds, event.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != EventDelete || kinds[1] != EventPin {
		t.Fatalf("kinds = %v, want [delete pin]", kinds)
	}

	failing := make(chan ChannelEvent, 1)
	failing <- ChannelEvent{Kind: EventMessage}
	err = ChannelSource{Events: failing}.Consume(context.Background(), func(context.Context, ChannelEvent) error {
		return errors.New("handler failed")
	})
	if err == nil || !strings.Contains(err.Error(), "handle event message") {
		t.Fatalf("error = %v, want wrapped handler failure", err)
	}
}

type gotdTestClient struct {
	run func(ctx context.Context, fn func(context.Context) error) error
}

func (c gotdTestClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return c.run(ctx, fn)
}

type gotdTestStream struct {
	updates <-chan any
}

func (s gotdTestStream) Updates(_ context.Context) (<-chan any, error) {
	return s.updates, nil
}

type gotdTestMapper struct {
	result   ChannelEvent
	accepted bool
	err      error
}

func (m gotdTestMapper) Map(_ context.Context, _ any) (ChannelEvent, bool, error) {
	if m.err != nil {
		return ChannelEvent{}, false, m.err
	}
	return m.result, m.accepted, nil
}
