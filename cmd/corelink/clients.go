package main

import (
	"fmt"
	"log/slog"

	"github.com/kiosklab/corelink/pkg/config"
	"github.com/kiosklab/corelink/pkg/diag"
	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/loans"
)

// upstreams bundles the clients built from the config. archive and loans
// are nil when disabled.
type upstreams struct {
	dna     *dna.Client
	loans   *loans.Client
	archive *diag.Archive
}

func (u *upstreams) Close() {
	if u.archive != nil {
		if err := u.archive.Close(); err != nil {
			slog.Warn("closing archive", "error", err)
		}
	}
}

func openArchive(cfg *config.Config) (*diag.Archive, error) {
	return diag.Open(cfg.Archive.Path, cfg.Archive.MaxAge)
}

func newUpstreams(cfg *config.Config) (*upstreams, error) {
	u := &upstreams{}
	var dnaOpts []dna.ClientOption
	var loanOpts []loans.Option
	if cfg.Archive.Enabled {
		archive, err := openArchive(cfg)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		u.archive = archive
		dnaOpts = append(dnaOpts, dna.WithArchive(archive))
		loanOpts = append(loanOpts, loans.WithArchive(archive))
	}

	client, err := dna.NewClient(cfg.DNA, dnaOpts...)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("creating dna client: %w", err)
	}
	u.dna = client

	if cfg.Loans != nil {
		lc, err := loans.NewClient(*cfg.Loans, loanOpts...)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("creating loans client: %w", err)
		}
		u.loans = lc
	}
	return u, nil
}
