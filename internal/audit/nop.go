package audit

import (
	"context"
	"time"
)

// nopLogger discards every event.
type nopLogger struct{}

// NewNopLogger returns a Logger that records nothing. Used when auditing is
// disabled and in tests.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogQuestionReceived(context.Context, string, string, []string, string) error {
	return nil
}
func (nopLogger) LogQuestionRejected(context.Context, string, error, string) error { return nil }
func (nopLogger) LogIntentResolved(context.Context, string, []string) error        { return nil }
func (nopLogger) LogIntentAborted(context.Context, string, string, string) error   { return nil }
func (nopLogger) LogResponsePersisted(context.Context, string) error               { return nil }
func (nopLogger) LogConfigLoaded(context.Context, string) error                    { return nil }
func (nopLogger) Sync() error                                                      { return nil }
func (nopLogger) Close() error                                                     { return nil }
func (nopLogger) LogResponseAssembled(context.Context, string, string, string, time.Duration) error {
	return nil
}
