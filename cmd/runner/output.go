package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

// printEvent writes one event as a JSON line or a single line of text.
// Screenshot bytes are never printed in text mode.
func printEvent(w io.Writer, ev events.Event, asJSON bool) error {
	if asJSON {
		return printJSON(w, ev)
	}

	var line string
	switch ev.Kind {
	case events.KindState:
		s := ev.State
		line = fmt.Sprintf("[%3d%%] %-12s %s", s.Progress, s.Status, s.CurrentAction)
		if s.TotalActions > 0 && s.Status == testrun.StatusExecuting {
			line += fmt.Sprintf(" (%d/%d)", s.ActionIndex+1, s.TotalActions)
		}
	case events.KindLog:
		l := ev.Log
		line = fmt.Sprintf("%-5s %-8s %s%s", l.Level, l.Category, l.Message, formatDetails(l.Details))
	case events.KindError:
		e := ev.Error
		line = fmt.Sprintf("ERROR %s: %s", e.Code, e.Message)
	case events.KindCompleted:
		line = "completed: " + summary(ev.Result)
	default:
		line = fmt.Sprintf("unknown event %q", ev.Kind)
	}
	_, err := fmt.Fprintf(w, "#%d %s\n", ev.Seq, line)
	return err
}

func summary(res *testrun.Result) string {
	if res == nil {
		return "no result"
	}
	return fmt.Sprintf("status=%s success=%t actions=%d failed=%d screenshots=%d duration=%s",
		res.Status, res.Success, res.ActionsExecuted, res.Metrics.FailedActions,
		len(res.Screenshots), res.Duration.Round(time.Millisecond))
}

func formatDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return " {" + strings.Join(parts, " ") + "}"
}

// locator resolves a stored screenshot key to a fetchable location.
type locator func(ctx context.Context, key string) (string, error)

// printResult writes the final result. In JSON mode screenshot bytes are
// dropped in favour of their storage paths. With a locator, text mode prints
// where each stored screenshot can be fetched from instead of its key.
func printResult(ctx context.Context, w io.Writer, res *testrun.Result, asJSON bool, locate locator) error {
	if asJSON {
		out := res.Clone()
		for i := range out.Screenshots {
			out.Screenshots[i].Data = nil
		}
		return printJSON(w, out)
	}

	if _, err := fmt.Fprintln(w, summary(res)); err != nil {
		return err
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.Code, e.Message)
	}
	for _, s := range res.Screenshots {
		if s.ActionIndex == testrun.FinalScreenshotIndex {
			continue
		}
		printScreenshot(ctx, w, fmt.Sprintf("action %d", s.ActionIndex), s.Path, locate)
	}
	if final, ok := res.FinalScreenshot(); ok {
		printScreenshot(ctx, w, "final", final.Path, locate)
	}
	return nil
}

func printScreenshot(ctx context.Context, w io.Writer, label, key string, locate locator) {
	if key == "" {
		return
	}
	where := key
	if locate != nil {
		url, err := locate(ctx, key)
		if err != nil {
			where = fmt.Sprintf("%s (unavailable: %v)", key, err)
		} else {
			where = url
		}
	}
	fmt.Fprintf(w, "  screenshot (%s): %s\n", label, where)
}
