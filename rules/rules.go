//go:build ruleguard

// Package gorules defines custom linter rules for the ecosort code base.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the manual Add/Done pattern and suggests wg.Go (Go 1.25+).
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    doSomething()
//	}()
//
// becomes
//
//	wg.Go(func() {
//	    doSomething()
//	})
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext detects context.Background() or context.TODO() in tests.
// t.Context() is cancelled when the test ends, which stops pipelines and
// queue workers started by the test.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx = context.Background()`,
		`$ctx := context.TODO()`,
		`$ctx = context.TODO()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead of a background context")

	m.Match(
		`$fn(context.Background(), $*args)`,
		`$fn(context.TODO(), $*args)`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead of a background context")
}

// TimeDateTimeConstants detects magic layouts that have named constants.
func TimeDateTimeConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime) instead of magic format string`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly) instead of magic format string`).
		Suggest(`$t.Format(time.DateOnly)`)
}

// StructuredLogFields detects formatted log messages. Values belong in
// logger fields so that they stay queryable in the JSON file output.
//
//	log.Info(fmt.Sprintf("session %s done", id))
//
// becomes
//
//	log.Info("session done", logger.String("session_id", id))
func StructuredLogFields(m dsl.Matcher) {
	m.Match(
		`$log.Debug(fmt.Sprintf($*_), $*_)`,
		`$log.Info(fmt.Sprintf($*_), $*_)`,
		`$log.Warn(fmt.Sprintf($*_), $*_)`,
		`$log.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m["log"].Type.Implements(`github.com/tphakala/ecosort/internal/logger.Logger`)).
		Report("use a constant message with logger fields instead of fmt.Sprintf")
}

// PredictionAccuracy detects hand written label comparisons on media items.
func PredictionAccuracy(m dsl.Matcher) {
	m.Match(
		`$it.PredictedLabelID != nil && $it.ActualLabelID != nil && *$it.PredictedLabelID == *$it.ActualLabelID`,
	).
		Where(m["it"].Type.Is(`*github.com/tphakala/ecosort/internal/datastore.MediaItem`) ||
			m["it"].Type.Is(`github.com/tphakala/ecosort/internal/datastore.MediaItem`)).
		Report("use $it.IsPredictionAccurate()").
		Suggest("$it.IsPredictionAccurate()")
}

// ErrorsWrapWithBuilder detects fmt.Errorf results passed straight back from
// store code, which loses the category used for HTTP status mapping.
func ErrorsWrapWithBuilder(m dsl.Matcher) {
	m.Match(`return nil, fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`internal/datastore$`)).
		Report("wrap datastore errors with errors.New(...).Category(...).Build() so callers can map them")
}
