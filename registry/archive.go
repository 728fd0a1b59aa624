package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// ArchiveReport summarizes a SyncArchive run.
type ArchiveReport struct {
	Checked  int
	Restored int
	Failed   int
}

// SyncArchive fetches the code of every template from the archive and
// stores it again when it is missing or does not match its content id.
// The registry lock is not held while the archive is called.
func (r *Registry) SyncArchive(ctx context.Context) (report ArchiveReport, err error) {
	if r.archive == nil {
		return report, nil
	}

	ctx, done := r.observe(ctx, "sync-archive",
		attribute.String("forge.archive", r.archive.LocationURI()))
	defer func() { done(err) }()

	for _, t := range r.Templates() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		if r.archivedCodeValid(ctx, t) {
			continue
		}

		storeCtx, cancel := context.WithTimeout(ctx, r.archiveTimeout)
		_, err := r.archive.Store(storeCtx, t.Code, interfaces.TemplateCodeType)
		cancel()
		if err != nil {
			report.Failed++
			metrics.RecordArchiveFailure(interfaces.TemplateCodeType)
			r.log.Warn("Failed to restore archived template code",
				slog.String("name", t.Name.String()),
				slog.String("codeID", t.CodeID.Short()),
				"err", err)
			continue
		}
		report.Restored++
		r.log.Info("Restored archived template code",
			slog.String("name", t.Name.String()),
			slog.String("codeID", t.CodeID.Short()))
	}

	r.log.Info("Template archive synced",
		slog.Int("checked", report.Checked),
		slog.Int("restored", report.Restored),
		slog.Int("failed", report.Failed))

	if report.Failed > 0 {
		return report, fmt.Errorf("failed to archive %d of %d templates", report.Failed, report.Checked)
	}
	return report, nil
}

func (r *Registry) archivedCodeValid(ctx context.Context, t interfaces.Template) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, r.archiveTimeout)
	defer cancel()

	data, err := r.archive.Fetch(fetchCtx, t.CodeID, interfaces.TemplateCodeType)
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound):
		r.log.Debug("Template code missing from archive", slog.String("name", t.Name.String()))
		return false
	case err != nil:
		r.log.Warn("Failed to fetch archived template code",
			slog.String("name", t.Name.String()),
			"err", err)
		return false
	case interfaces.ComputeID(data) != t.CodeID:
		r.log.Warn("Archived template code does not match its content id",
			slog.String("name", t.Name.String()),
			slog.String("codeID", t.CodeID.Short()))
		return false
	}
	return true
}
