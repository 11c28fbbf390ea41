// Package postgres is the sqlx/pgx-backed persistence layer for the crawl
// kernel's four tables. It follows the teacher's Querier/Transactor
// port-interface idiom: every method accepts an exec Querier and falls
// back to the store's own *sqlx.DB when exec is nil, so callers can choose
// to run a sequence of calls inside one transaction or not.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" driver, used by golang-migrate

	"github.com/fntelecomllc/crawlkernel/internal/models"
)

// Querier defines methods that can be executed by both sqlx.DB and sqlx.Tx.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Transactor starts and manages transactions for a store.
type Transactor interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Open connects to Postgres over the pgx-backed database/sql driver
// (jackc/pgx/v5/stdlib), wrapped in sqlx for its struct-scanning
// convenience -- the same dual-library combination the teacher's store
// package set up in its go.mod, generalized from lib/pq-only to pgx as the
// primary runtime driver.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store implements the CRUD primitives the persistence engine and sync
// engine build their upsert/sweep semantics on top of.
type Store struct {
	db *sqlx.DB
}

// New wraps an open *sqlx.DB.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// BeginTxx starts a new transaction.
func (s *Store) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, opts)
}

// WithTx runs fn inside one transaction, committing on success and rolling
// back on error or panic. It replaces the teacher's deleted
// transaction_manager_adapter.go with a smaller, dependency-free helper.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

func (s *Store) exec(exec Querier) Querier {
	if exec == nil {
		return s.db
	}
	return exec
}

// GetProduct returns a product row by URL, or sql.ErrNoRows.
func (s *Store) GetProduct(ctx context.Context, exec Querier, url string) (*models.Product, error) {
	var p models.Product
	err := s.exec(exec).GetContext(ctx, &p,
		`SELECT url, page_id, index_in_page, created_at, updated_at FROM products WHERE url = $1`, url)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProduct inserts or updates a product row, reporting whether an
// existing row was found and whether its fields changed.
func (s *Store) UpsertProduct(ctx context.Context, exec Querier, p *models.Product) (wasUpdated, wasCreated bool, err error) {
	existing, err := s.GetProduct(ctx, exec, p.URL)
	if err != nil && err != sql.ErrNoRows {
		return false, false, fmt.Errorf("lookup product %s: %w", p.URL, err)
	}
	if err == sql.ErrNoRows {
		_, err = s.exec(exec).ExecContext(ctx,
			`INSERT INTO products (url, page_id, index_in_page, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())`, p.URL, p.PageID, p.IndexInPage)
		if err != nil {
			return false, false, fmt.Errorf("insert product %s: %w", p.URL, err)
		}
		return false, true, nil
	}
	if existing.PageID == p.PageID && existing.IndexInPage == p.IndexInPage {
		return false, false, nil
	}
	_, err = s.exec(exec).ExecContext(ctx,
		`UPDATE products SET page_id = $2, index_in_page = $3, updated_at = now() WHERE url = $1`,
		p.URL, p.PageID, p.IndexInPage)
	if err != nil {
		return false, false, fmt.Errorf("update product %s: %w", p.URL, err)
	}
	return true, false, nil
}

// GetProductDetail returns a detail row by URL, or sql.ErrNoRows.
func (s *Store) GetProductDetail(ctx context.Context, exec Querier, url string) (*models.ProductDetail, error) {
	var d models.ProductDetail
	err := s.exec(exec).GetContext(ctx, &d, `
		SELECT url, page_id, index_in_page, manufacturer, model, certificate_id, vendor_id, product_id,
		       firmware_version, hardware_version, software_version, certification_date, family_id,
		       tis_trp_tested, specification_version, transport_interface, primary_device_type_id,
		       compliance_document_url, program_type, device_type, commissioning_method,
		       discovery_capabilities, additional_comments, created_at, updated_at
		FROM product_details WHERE url = $1`, url)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertProductDetail inserts or updates a product_details row via
// ON CONFLICT, mirroring the teacher's campaign_store.go upsert idiom, and
// reports whether the row pre-existed and whether it was byte-equal
// (duplicate) or changed.
func (s *Store) UpsertProductDetail(ctx context.Context, exec Querier, d *models.ProductDetail) (wasUpdated, wasCreated, wasDuplicate bool, err error) {
	existing, getErr := s.GetProductDetail(ctx, exec, d.URL)
	if getErr != nil && getErr != sql.ErrNoRows {
		return false, false, false, fmt.Errorf("lookup detail %s: %w", d.URL, getErr)
	}
	if getErr == sql.ErrNoRows {
		_, err = s.exec(exec).ExecContext(ctx, `
			INSERT INTO product_details (
				url, page_id, index_in_page, manufacturer, model, certificate_id, vendor_id, product_id,
				firmware_version, hardware_version, software_version, certification_date, family_id,
				tis_trp_tested, specification_version, transport_interface, primary_device_type_id,
				compliance_document_url, program_type, device_type, commissioning_method,
				discovery_capabilities, additional_comments, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23, now(), now())
			ON CONFLICT (url) DO UPDATE SET
				page_id = EXCLUDED.page_id, index_in_page = EXCLUDED.index_in_page,
				manufacturer = EXCLUDED.manufacturer, model = EXCLUDED.model,
				certificate_id = EXCLUDED.certificate_id, vendor_id = EXCLUDED.vendor_id,
				product_id = EXCLUDED.product_id, firmware_version = EXCLUDED.firmware_version,
				hardware_version = EXCLUDED.hardware_version, software_version = EXCLUDED.software_version,
				certification_date = EXCLUDED.certification_date, family_id = EXCLUDED.family_id,
				tis_trp_tested = EXCLUDED.tis_trp_tested, specification_version = EXCLUDED.specification_version,
				transport_interface = EXCLUDED.transport_interface, primary_device_type_id = EXCLUDED.primary_device_type_id,
				compliance_document_url = EXCLUDED.compliance_document_url, program_type = EXCLUDED.program_type,
				device_type = EXCLUDED.device_type, commissioning_method = EXCLUDED.commissioning_method,
				discovery_capabilities = EXCLUDED.discovery_capabilities, additional_comments = EXCLUDED.additional_comments,
				updated_at = now()`,
			d.URL, d.PageID, d.IndexInPage, d.Manufacturer, d.Model, d.CertificateID, d.VendorID, d.ProductID,
			d.FirmwareVersion, d.HardwareVersion, d.SoftwareVersion, d.CertificationDate, d.FamilyID,
			d.TisTrpTested, d.SpecificationVersion, d.TransportInterface, d.PrimaryDeviceTypeID,
			d.ComplianceDocumentURL, d.ProgramType, d.DeviceType, d.CommissioningMethod,
			d.DiscoveryCapabilities, d.AdditionalComments)
		if err != nil {
			return false, false, false, fmt.Errorf("insert detail %s: %w", d.URL, err)
		}
		return false, true, false, nil
	}
	if existing.Equal(d) {
		return false, false, true, nil
	}
	_, err = s.exec(exec).ExecContext(ctx, `
		UPDATE product_details SET
			page_id=$2, index_in_page=$3, manufacturer=$4, model=$5, certificate_id=$6, vendor_id=$7,
			product_id=$8, firmware_version=$9, hardware_version=$10, software_version=$11,
			certification_date=$12, family_id=$13, tis_trp_tested=$14, specification_version=$15,
			transport_interface=$16, primary_device_type_id=$17, compliance_document_url=$18,
			program_type=$19, device_type=$20, commissioning_method=$21, discovery_capabilities=$22,
			additional_comments=$23, updated_at=now()
		WHERE url=$1`,
		d.URL, d.PageID, d.IndexInPage, d.Manufacturer, d.Model, d.CertificateID, d.VendorID, d.ProductID,
		d.FirmwareVersion, d.HardwareVersion, d.SoftwareVersion, d.CertificationDate, d.FamilyID,
		d.TisTrpTested, d.SpecificationVersion, d.TransportInterface, d.PrimaryDeviceTypeID,
		d.ComplianceDocumentURL, d.ProgramType, d.DeviceType, d.CommissioningMethod,
		d.DiscoveryCapabilities, d.AdditionalComments)
	if err != nil {
		return false, false, false, fmt.Errorf("update detail %s: %w", d.URL, err)
	}
	return true, false, false, nil
}

// SyncProductPosition best-effort updates a product_details row's mirrored
// canonical position when the parent product row is inserted fresh. Errors
// are swallowed by the caller (persistence engine), per spec §4.6.
func (s *Store) SyncProductPosition(ctx context.Context, exec Querier, url string, pageID, indexInPage int32) error {
	_, err := s.exec(exec).ExecContext(ctx,
		`UPDATE product_details SET page_id = $2, index_in_page = $3, updated_at = now() WHERE url = $1`,
		url, pageID, indexInPage)
	return err
}

// ProductDetailStats returns the aggregate DB analysis the persistence
// engine and anomaly probes consult.
func (s *Store) ProductDetailStats(ctx context.Context, exec Querier) (count int64, minPage, maxPage int32, err error) {
	var row struct {
		Count   int64         `db:"count"`
		MinPage sql.NullInt32 `db:"min_page"`
		MaxPage sql.NullInt32 `db:"max_page"`
	}
	err = s.exec(exec).GetContext(ctx, &row,
		`SELECT count(*) AS count, min(page_id) AS min_page, max(page_id) AS max_page FROM product_details`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("product detail stats: %w", err)
	}
	return row.Count, row.MinPage.Int32, row.MaxPage.Int32, nil
}

// ProductStats mirrors ProductDetailStats for the products table, used by
// DbAnalysis.
func (s *Store) ProductStats(ctx context.Context, exec Querier) (count int64, minPage, maxPage int32, isEmpty bool, err error) {
	var row struct {
		Count   int64         `db:"count"`
		MinPage sql.NullInt32 `db:"min_page"`
		MaxPage sql.NullInt32 `db:"max_page"`
	}
	err = s.exec(exec).GetContext(ctx, &row,
		`SELECT count(*) AS count, min(page_id) AS min_page, max(page_id) AS max_page FROM products`)
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("product stats: %w", err)
	}
	return row.Count, row.MinPage.Int32, row.MaxPage.Int32, row.Count == 0, nil
}

// CreateSyncSession starts a sync_sessions row.
func (s *Store) CreateSyncSession(ctx context.Context, exec Querier, sess *models.SyncSession) error {
	if sess.SessionID == uuid.Nil {
		sess.SessionID = uuid.New()
	}
	_, err := s.exec(exec).ExecContext(ctx,
		`INSERT INTO sync_sessions (session_id, status, coverage_text, started_at) VALUES ($1,$2,$3, now())`,
		sess.SessionID, sess.Status, sess.CoverageText)
	return err
}

// FinishSyncSession marks a sync session terminal.
func (s *Store) FinishSyncSession(ctx context.Context, exec Querier, sessionID uuid.UUID, status models.SyncSessionStatus) error {
	_, err := s.exec(exec).ExecContext(ctx,
		`UPDATE sync_sessions SET status = $2, finished_at = now() WHERE session_id = $1`, sessionID, status)
	return err
}

// RecordSyncObserved upserts one (session_id, url) observation row.
func (s *Store) RecordSyncObserved(ctx context.Context, exec Querier, o *models.SyncObserved) error {
	_, err := s.exec(exec).ExecContext(ctx, `
		INSERT INTO sync_observed (session_id, url, page_id, index_in_page) VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id, url) DO UPDATE SET page_id = EXCLUDED.page_id, index_in_page = EXCLUDED.index_in_page`,
		o.SessionID, o.URL, o.PageID, o.IndexInPage)
	return err
}

// ObservedCountForPage returns how many distinct URLs were observed for a
// canonical page_id within a sync session, used to decide whether a page
// was "fully observed" for the sweep-delete rule.
func (s *Store) ObservedCountForPage(ctx context.Context, exec Querier, sessionID uuid.UUID, pageID int32) (int, error) {
	var count int
	err := s.exec(exec).GetContext(ctx, &count,
		`SELECT count(*) FROM sync_observed WHERE session_id = $1 AND page_id = $2`, sessionID, pageID)
	return count, err
}

// SweepDeleteUnobserved deletes products rows within [lowPageID, highPageID]
// whose page_id was fully observed this session and whose url was not
// seen, per the sweep-delete rule (SPEC_FULL.md / spec.md §4.8).
func (s *Store) SweepDeleteUnobserved(ctx context.Context, exec Querier, sessionID uuid.UUID, lowPageID, highPageID int32, pageSize int) (int64, error) {
	res, err := s.exec(exec).ExecContext(ctx, `
		DELETE FROM products p
		WHERE p.page_id BETWEEN $2 AND $3
		  AND (SELECT count(*) FROM sync_observed so WHERE so.session_id = $1 AND so.page_id = p.page_id) = $4
		  AND NOT EXISTS (SELECT 1 FROM sync_observed so WHERE so.session_id = $1 AND so.url = p.url)`,
		sessionID, lowPageID, highPageID, pageSize)
	if err != nil {
		return 0, fmt.Errorf("sweep delete: %w", err)
	}
	return res.RowsAffected()
}

// ListProductsByPageID lists every product row with a given canonical
// page_id, used by Validation to detect duplicate-index / sparse-page
// anomalies.
func (s *Store) ListProductsByPageID(ctx context.Context, exec Querier, pageID int32) ([]models.Product, error) {
	var out []models.Product
	err := s.exec(exec).SelectContext(ctx, &out,
		`SELECT url, page_id, index_in_page, created_at, updated_at FROM products WHERE page_id = $1 ORDER BY index_in_page`, pageID)
	return out, err
}

// DistinctPageIDs lists every canonical page_id present in products, used
// by Validation to scan the whole table.
func (s *Store) DistinctPageIDs(ctx context.Context, exec Querier) ([]int32, error) {
	var out []int32
	err := s.exec(exec).SelectContext(ctx, &out, `SELECT DISTINCT page_id FROM products ORDER BY page_id`)
	return out, err
}
