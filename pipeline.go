// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Pipeline stage names.
const (
	StageCheck    = "check"
	StageFixZip64 = "fixzip64"
	StageExtract  = "extract"
	StageRebuild  = "rebuild"
)

// StageStatus is the terminal state of one pipeline stage.
type StageStatus string

// Stage outcomes.
const (
	// StageSucceeded means the stage did its work.
	StageSucceeded StageStatus = "succeeded"
	// StageNothingToDo means the stage found nothing to act on.
	StageNothingToDo StageStatus = "nothing_to_do"
	// StageFailed means the stage could not complete.
	StageFailed StageStatus = "failed"
)

// StageReport describes one pipeline stage.
type StageReport struct {
	// Err is the stage failure, if any.
	Err error `json:"-" yaml:"-"`
	// Stage is the stage name.
	Stage string `json:"stage" yaml:"stage"`
	// Status is the terminal outcome.
	Status StageStatus `json:"status" yaml:"status"`
	// Message is a short human readable summary.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Error is Err rendered for reports.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PipelineReport aggregates every stage of one repair run.
type PipelineReport struct {
	// Inspect is the check stage result.
	Inspect *InspectResult `json:"inspect,omitempty" yaml:"inspect,omitempty"`
	// Patch is the fixzip64 stage result.
	Patch *PatchResult `json:"patch,omitempty" yaml:"patch,omitempty"`
	// Extract is the extract stage result.
	Extract *BatchOutcome `json:"extract,omitempty" yaml:"extract,omitempty"`
	// Rebuild is the rebuild stage result.
	Rebuild *RebuildResult `json:"rebuild,omitempty" yaml:"rebuild,omitempty"`
	// Source is the repaired archive path.
	Source string `json:"source" yaml:"source"`
	// WorkDir holds the extracted tree.
	WorkDir string `json:"work_dir" yaml:"work_dir"`
	// ExtractDir is the extraction destination.
	ExtractDir string `json:"extract_dir" yaml:"extract_dir"`
	// OutputPath is the rebuilt archive path.
	OutputPath string `json:"output_path" yaml:"output_path"`
	// Stages are stage reports in execution order.
	Stages []StageReport `json:"stages" yaml:"stages"`
}

// Stage returns the report for the named stage.
func (r *PipelineReport) Stage(name string) (StageReport, bool) {
	if r == nil {
		return StageReport{}, false
	}

	for _, st := range r.Stages {
		if st.Stage == name {
			return st, true
		}
	}

	return StageReport{}, false
}

// record appends a stage report and logs it.
func (r *PipelineReport) record(log logrus.FieldLogger, st StageReport) {
	if st.Err != nil {
		st.Error = st.Err.Error()
	}

	stageLog := log.WithField("stage", st.Stage)
	switch st.Status {
	case StageFailed:
		stageLog.WithError(st.Err).Errorf("stage failed: %s", st.Message)
	case StageNothingToDo:
		stageLog.Infof("nothing to do: %s", st.Message)
	default:
		stageLog.Infof("stage succeeded: %s", st.Message)
	}

	r.Stages = append(r.Stages, st)
}

// WorkLayout returns the default work dir, extract dir, and output path for archivePath.
func WorkLayout(archivePath string) (workDir string, extractDir string, outputPath string) {
	dir, stem := splitArchivePath(archivePath)
	workDir = filepath.Join(dir, stem+"_work")
	return workDir, filepath.Join(workDir, "extracted"), filepath.Join(workDir, stem+".repacked.zip")
}

// splitArchivePath returns the parent directory and the file name without extension.
func splitArchivePath(archivePath string) (string, string) {
	base := filepath.Base(archivePath)
	return filepath.Dir(archivePath), strings.TrimSuffix(base, filepath.Ext(base))
}

// Repair runs check, fixzip64, extract, and rebuild against archivePath.
//
// Stage failures are recorded and the next stage still runs. The returned
// error is non-nil only when the source is not a readable regular file or
// the work directories cannot be created.
func Repair(archivePath string, opts PipelineOptions) (*PipelineReport, error) {
	opts.applyDefaults()
	log := opts.Logger.WithField("archive", archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open source: %w", ErrFatalIO, err)
	}
	fi, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: stat source: %w", ErrFatalIO, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrFatalIO, archivePath)
	}

	workDir, extractDir, outputPath := WorkLayout(archivePath)
	if opts.WorkDir != "" {
		workDir = opts.WorkDir
		extractDir = filepath.Join(workDir, "extracted")
		_, stem := splitArchivePath(archivePath)
		outputPath = filepath.Join(workDir, stem+".repacked.zip")
	}

	if opts.OutputPath != "" {
		outputPath = opts.OutputPath
	}

	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create work dir: %w", ErrFatalIO, err)
	}
	if err := os.MkdirAll(extractDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create extract dir: %w", ErrFatalIO, err)
	}

	report := &PipelineReport{
		Source:     archivePath,
		WorkDir:    workDir,
		ExtractDir: extractDir,
		OutputPath: outputPath,
	}

	report.record(log, runCheckStage(archivePath, opts, report))
	report.record(log, runPatchStage(archivePath, opts, report))
	report.record(log, runExtractStage(archivePath, extractDir, opts, report))
	report.record(log, runRebuildStage(extractDir, outputPath, opts, report))

	return report, nil
}

// runCheckStage inspects the central directory.
func runCheckStage(archivePath string, opts PipelineOptions, report *PipelineReport) StageReport {
	st := StageReport{Stage: StageCheck}
	res := Inspect(archivePath, ReaderOptions{Logger: opts.Logger})
	report.Inspect = res

	if res.Clean {
		st.Status = StageSucceeded
		st.Message = fmt.Sprintf("%d entries", len(res.Entries))
		return st
	}

	st.Status = StageFailed
	st.Err = res.Err
	if res.Compat {
		st.Message = fmt.Sprintf("%d entries listed only through ZIP64 overlay", len(res.Entries))
	} else {
		st.Message = "central directory unreadable"
	}

	return st
}

// runPatchStage applies the ZIP64 locator patch in place.
func runPatchStage(archivePath string, opts PipelineOptions, report *PipelineReport) StageReport {
	st := StageReport{Stage: StageFixZip64}
	res, err := FixLocator(archivePath, PatchOptions{Logger: opts.Logger, VerifyEOCD: opts.VerifyEOCD})
	if err != nil {
		st.Status = StageFailed
		st.Err = err
		st.Message = "locator patch aborted"
		return st
	}

	report.Patch = res
	st.Message = string(res.Status)
	switch res.Status {
	case PatchPatched:
		st.Status = StageSucceeded
	case PatchNotNeeded, PatchNotFound, PatchUnexpectedValue:
		st.Status = StageNothingToDo
	default:
		st.Status = StageFailed
		st.Err = res.Status.Err()
	}

	return st
}

// runExtractStage extracts entries into extractDir.
func runExtractStage(archivePath string, extractDir string, opts PipelineOptions, report *PipelineReport) StageReport {
	st := StageReport{Stage: StageExtract}
	batch, err := Extract(archivePath, extractDir, opts.Extract)
	if err != nil {
		st.Status = StageFailed
		st.Err = err
		st.Message = "extraction aborted"
		return st
	}

	report.Extract = batch
	st.Message = fmt.Sprintf("%d complete, %d partial, %d failed", batch.Complete(), batch.Partial(), batch.Failed())
	switch {
	case batch.HadAnySuccess:
		st.Status = StageSucceeded
	case len(batch.Entries) == 0:
		st.Status = StageNothingToDo
		st.Message = "no file entries"
	default:
		st.Status = StageFailed
		st.Err = batch.Err()
	}

	return st
}

// runRebuildStage packs the extracted tree into outputPath.
func runRebuildStage(extractDir string, outputPath string, opts PipelineOptions, report *PipelineReport) StageReport {
	st := StageReport{Stage: StageRebuild}
	res, err := Rebuild(extractDir, outputPath, opts.Rebuild)
	report.Rebuild = res

	switch {
	case errors.Is(err, ErrNothingToRebuild):
		st.Status = StageNothingToDo
		st.Message = "extracted tree is empty"
	case err != nil:
		st.Status = StageFailed
		st.Err = err
		st.Message = "rebuild aborted"
	default:
		st.Status = StageSucceeded
		st.Message = fmt.Sprintf("%d files written to %s", res.FileCount, res.Output)
	}

	return st
}
