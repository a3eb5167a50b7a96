// Package xrddb stores diffraction analysis results in a SQLite database.
package xrddb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/openmsi/htstream/internal/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	ID INTEGER PRIMARY KEY,
	file_name TEXT UNIQUE,
	raw_file_name TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS datapoints (
	ID INTEGER PRIMARY KEY,
	dataset_id INTEGER REFERENCES datasets(ID),
	angle REAL,
	counts REAL
);

CREATE TABLE IF NOT EXISTS segments (
	ID INTEGER PRIMARY KEY,
	dataset_id INTEGER REFERENCES datasets(ID),
	min_angle REAL,
	max_angle REAL
);

CREATE TABLE IF NOT EXISTS candidate_peaks (
	ID INTEGER PRIMARY KEY,
	segment_id INTEGER REFERENCES segments(ID),
	angle REAL
);

CREATE TABLE IF NOT EXISTS segment_fits (
	ID INTEGER PRIMARY KEY,
	segment_id INTEGER REFERENCES segments(ID),
	method TEXT,
	ndata INTEGER,
	chisqr REAL,
	redchi REAL,
	rsquared REAL,
	nfev INTEGER,
	aborted INTEGER,
	success INTEGER,
	message TEXT
);

CREATE TABLE IF NOT EXISTS backgrounds (
	ID INTEGER PRIMARY KEY,
	segment_id INTEGER REFERENCES segments(ID),
	init_slope REAL,
	init_intercept REAL,
	fitted_slope REAL,
	fitted_intercept REAL,
	slope_stderr REAL,
	intercept_stderr REAL
);

CREATE TABLE IF NOT EXISTS fitted_peaks (
	ID INTEGER PRIMARY KEY,
	segment_id INTEGER REFERENCES segments(ID),
	init_amplitude REAL,
	init_center REAL,
	init_sigma REAL,
	init_fraction REAL,
	fitted_amplitude REAL,
	fitted_center REAL,
	fitted_sigma REAL,
	fitted_fwhm REAL,
	fitted_fraction REAL,
	amplitude_stderr REAL,
	center_stderr REAL,
	sigma_stderr REAL,
	fraction_stderr REAL
);
`

var tableNames = []string{
	"fitted_peaks", "backgrounds", "segment_fits",
	"candidate_peaks", "segments", "datapoints", "datasets",
}

// Store persists analysis results for diffraction files.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Options controls how the store is opened.
type Options struct {
	// DropExisting removes any previous result tables before recreating
	// the schema.
	DropExisting bool
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, opts Options, logger *logrus.Logger) (*Store, error) {
	// The _pragma form applies to every connection in the pool. modernc.org/sqlite
	// does not understand the mattn-style _busy_timeout / _journal_mode keys.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if opts.DropExisting {
		logger.WithField("path", path).Info("Dropping and recreating all result tables")
		for _, name := range tableNames {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("drop table %s: %w", name, err)
			}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SegmentResult pairs a data segment with the fit performed on it.
type SegmentResult struct {
	Segment analysis.Segment
	Fit     *analysis.FitResult
}

// SaveAnalysis writes a dataset, its points, and all segment results in a
// single transaction.
func (s *Store) SaveAnalysis(ctx context.Context, fileName string, pattern *analysis.Pattern, results []SegmentResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (file_name, raw_file_name) VALUES (?, ?)`,
		fileName, pattern.RawFileName)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	datasetID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("dataset id: %w", err)
	}

	pointStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO datapoints (dataset_id, angle, counts) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare datapoint insert: %w", err)
	}
	defer pointStmt.Close()
	for i, angle := range pattern.Angles {
		if _, err := pointStmt.ExecContext(ctx, datasetID, angle, pattern.Counts[i]); err != nil {
			return fmt.Errorf("insert datapoint: %w", err)
		}
	}

	for _, r := range results {
		if err := s.saveSegment(ctx, tx, datasetID, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) saveSegment(ctx context.Context, tx *sql.Tx, datasetID int64, r SegmentResult) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO segments (dataset_id, min_angle, max_angle) VALUES (?, ?, ?)`,
		datasetID, r.Segment.Min, r.Segment.Max)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	segmentID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("segment id: %w", err)
	}

	for _, peak := range r.Segment.Peaks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_peaks (segment_id, angle) VALUES (?, ?)`,
			segmentID, peak.Angle); err != nil {
			return fmt.Errorf("insert candidate peak: %w", err)
		}
	}

	fit := r.Fit
	if fit == nil {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO segment_fits
			(segment_id, method, ndata, chisqr, redchi, rsquared, nfev, aborted, success, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		segmentID, fit.Method, fit.NData, fit.ChiSqr, fit.RedChi, fit.RSquared,
		fit.NFev, fit.Aborted, fit.Success, fit.Message); err != nil {
		return fmt.Errorf("insert segment fit: %w", err)
	}

	bg := fit.Background
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO backgrounds
			(segment_id, init_slope, init_intercept, fitted_slope, fitted_intercept,
			 slope_stderr, intercept_stderr)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		segmentID, bg.InitSlope, bg.InitIntercept, bg.Slope, bg.Intercept,
		bg.SlopeStderr, bg.InterceptStderr); err != nil {
		return fmt.Errorf("insert background: %w", err)
	}

	for _, peak := range fit.Peaks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fitted_peaks
				(segment_id, init_amplitude, init_center, init_sigma, init_fraction,
				 fitted_amplitude, fitted_center, fitted_sigma, fitted_fwhm, fitted_fraction,
				 amplitude_stderr, center_stderr, sigma_stderr, fraction_stderr)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			segmentID, peak.InitAmplitude, peak.InitCenter, peak.InitSigma, peak.InitFraction,
			peak.Amplitude, peak.Center, peak.Sigma, peak.FWHM, peak.Fraction,
			peak.AmplitudeStderr, peak.CenterStderr, peak.SigmaStderr, peak.FractionStderr); err != nil {
			return fmt.Errorf("insert fitted peak: %w", err)
		}
	}
	return nil
}

// CountRows reports the row count of one of the result tables, mainly as a
// cheap progress summary.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	valid := false
	for _, name := range tableNames {
		if name == table {
			valid = true
			break
		}
	}
	if !valid {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DatasetExists reports whether a dataset with the given file name has
// already been recorded.
func (s *Store) DatasetExists(ctx context.Context, fileName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM datasets WHERE file_name = ?`, fileName).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
