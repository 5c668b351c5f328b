// Package planner decides which build stages must re-run. It performs no I/O.
package planner

import (
	"path"
	"strings"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
)

// Stage is one step of the build, in execution order.
type Stage int

const (
	StageManifest Stage = iota
	StageCompile
	StageDex
	StagePackage
	stageCount
)

// StageNone marks deltas no stage owns, such as plain resources.
const StageNone Stage = -1

var stageNames = [stageCount]string{"manifest", "compile", "dex", "package"}

func (s Stage) String() string {
	if s >= 0 && s < stageCount {
		return stageNames[s]
	}
	return "none"
}

// Stages lists every stage in order.
func Stages() []Stage {
	return []Stage{StageManifest, StageCompile, StageDex, StagePackage}
}

// StageSet holds a dirty flag per stage. Dirtiness is monotonic: a dirty stage
// implies every later stage is dirty.
type StageSet struct {
	dirty   [stageCount]bool
	reasons [stageCount]string
}

// Dirty reports whether s must re-run.
func (ss StageSet) Dirty(s Stage) bool {
	if s < 0 || s >= stageCount {
		return false
	}
	return ss.dirty[s]
}

// Reason explains why s is dirty, or "" when clean.
func (ss StageSet) Reason(s Stage) string {
	if s < 0 || s >= stageCount {
		return ""
	}
	return ss.reasons[s]
}

// DirtyStages returns the names of dirty stages in order.
func (ss StageSet) DirtyStages() []string {
	var out []string
	for _, s := range Stages() {
		if ss.dirty[s] {
			out = append(out, s.String())
		}
	}
	return out
}

// Any reports whether at least one stage is dirty.
func (ss StageSet) Any() bool {
	return ss.dirty[StageManifest] || ss.dirty[StageCompile] || ss.dirty[StageDex] || ss.dirty[StagePackage]
}

// AllDirty returns a set with every stage dirty for reason.
func AllDirty(reason string) StageSet {
	var ss StageSet
	for _, s := range Stages() {
		ss.dirty[s] = true
		ss.reasons[s] = reason
	}
	return ss
}

// OwnerFunc maps a delta path to the stage that consumes it.
type OwnerFunc func(rel string) Stage

// DefaultOwner: Java sources feed compile, jars feed dex and a custom manifest
// feeds manifest. Everything else is a plain resource.
func DefaultOwner(rel string) Stage {
	base := path.Base(rel)
	switch {
	case base == "AndroidManifest.custom.xml":
		return StageManifest
	case strings.EqualFold(path.Ext(rel), ".java"):
		return StageCompile
	case strings.EqualFold(path.Ext(rel), ".jar"):
		return StageDex
	default:
		return StageNone
	}
}

// Input is everything Plan looks at.
type Input struct {
	// Deltas are the project resource changes.
	Deltas []deltafy.Delta
	// LibraryDeltas are changes among externally supplied library jars.
	LibraryDeltas []deltafy.Delta
	// ManifestChanged is set when the rendered manifest differs from the one
	// on disk.
	ManifestChanged bool
	// ForceFullRebuild is set when the project descriptor changed or state
	// was cleared.
	ForceFullRebuild bool
	// Release is set for signed distribution builds.
	Release bool
	// Owner classifies deltas; DefaultOwner when nil.
	Owner OwnerFunc
}

// Plan marks each stage dirty or clean.
func Plan(in Input) StageSet {
	if in.ForceFullRebuild {
		return AllDirty("full rebuild forced")
	}
	owner := in.Owner
	if owner == nil {
		owner = DefaultOwner
	}
	var own [stageCount]string
	for _, d := range in.Deltas {
		if s := owner(d.Path); s >= 0 && s < stageCount && own[s] == "" {
			own[s] = d.Status.String() + " " + d.Path
		}
	}
	if in.ManifestChanged && own[StageManifest] == "" {
		own[StageManifest] = "manifest content changed"
	}
	if len(in.LibraryDeltas) > 0 && own[StageDex] == "" {
		own[StageDex] = "library " + in.LibraryDeltas[0].Status.String() + " " + in.LibraryDeltas[0].Path
	}
	if in.Release && own[StagePackage] == "" {
		own[StagePackage] = "release packaging"
	}

	var ss StageSet
	for _, s := range Stages() {
		switch {
		case own[s] != "":
			ss.dirty[s] = true
			ss.reasons[s] = own[s]
		case s > 0 && ss.dirty[s-1]:
			ss.dirty[s] = true
			ss.reasons[s] = "upstream " + (s - 1).String() + " dirty"
		}
	}
	return ss
}
