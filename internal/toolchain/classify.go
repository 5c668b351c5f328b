package toolchain

import (
	"regexp"
	"strings"
)

// OutputClassifier turns tool output into a *ReportedFailure, or nil when the
// output does not indicate failure.
type OutputClassifier interface {
	Classify(tool, output string) *ReportedFailure
}

// ClassifierFunc adapts a function to OutputClassifier.
type ClassifierFunc func(tool, output string) *ReportedFailure

func (f ClassifierFunc) Classify(tool, output string) *ReportedFailure { return f(tool, output) }

// PatternClassifier reports a failure when Pattern matches. The first
// submatch, when present, becomes the message.
type PatternClassifier struct {
	Pattern *regexp.Regexp
}

func (c PatternClassifier) Classify(tool, output string) *ReportedFailure {
	if c.Pattern == nil {
		return nil
	}
	m := c.Pattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	msg := strings.TrimSpace(m[0])
	if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
		msg = strings.TrimSpace(m[1])
	}
	return &ReportedFailure{Tool: tool, Message: msg, Output: output}
}

var (
	// InstallClassifier recognises "Failure [INSTALL_FAILED_...]" from adb install.
	InstallClassifier = PatternClassifier{Pattern: regexp.MustCompile(`Failure(?:\s*\[([^\]]*)\])?`)}
	// SignClassifier recognises jarsigner runtime exceptions.
	SignClassifier = PatternClassifier{Pattern: regexp.MustCompile(`RuntimeException: (.*)`)}
	// NoFileClassifier recognises a missing path in shell ls output.
	NoFileClassifier = PatternClassifier{Pattern: regexp.MustCompile(`No such file or directory`)}
)
