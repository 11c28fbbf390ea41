// Package models holds the data-transfer and persistence types shared across
// the crawl kernel: the two persisted catalog entities, the analysis/planning
// value objects the planner and cache trade in, and the sync bookkeeping rows.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the canonical listing-page record for one catalog URL.
type Product struct {
	URL         string    `db:"url" json:"url"`
	PageID      int32     `db:"page_id" json:"pageId"`
	IndexInPage int32     `db:"index_in_page" json:"indexInPage"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// ProductDetail mirrors Product's canonical position plus the catalog fields
// scraped from the per-product detail page. Field names follow the
// Matter-certification reference domain (manufacturer/model/certificate_id/
// vendor_id/product_id/versions/...).
type ProductDetail struct {
	URL         string `db:"url" json:"url"`
	PageID      int32  `db:"page_id" json:"pageId"`
	IndexInPage int32  `db:"index_in_page" json:"indexInPage"`

	Manufacturer           *string `db:"manufacturer" json:"manufacturer,omitempty"`
	Model                  *string `db:"model" json:"model,omitempty"`
	CertificateID          *string `db:"certificate_id" json:"certificateId,omitempty"`
	VendorID               *string `db:"vendor_id" json:"vendorId,omitempty"`
	ProductID              *string `db:"product_id" json:"productId,omitempty"`
	FirmwareVersion        *string `db:"firmware_version" json:"firmwareVersion,omitempty"`
	HardwareVersion        *string `db:"hardware_version" json:"hardwareVersion,omitempty"`
	SoftwareVersion        *string `db:"software_version" json:"softwareVersion,omitempty"`
	CertificationDate      *string `db:"certification_date" json:"certificationDate,omitempty"`
	FamilyID               *string `db:"family_id" json:"familyId,omitempty"`
	TisTrpTested           *bool   `db:"tis_trp_tested" json:"tisTrpTested,omitempty"`
	SpecificationVersion   *string `db:"specification_version" json:"specificationVersion,omitempty"`
	TransportInterface     *string `db:"transport_interface" json:"transportInterface,omitempty"`
	PrimaryDeviceTypeID    *string `db:"primary_device_type_id" json:"primaryDeviceTypeId,omitempty"`
	ComplianceDocumentURL  *string `db:"compliance_document_url" json:"complianceDocumentUrl,omitempty"`
	ProgramType            *string `db:"program_type" json:"programType,omitempty"`
	DeviceType             *string `db:"device_type" json:"deviceType,omitempty"`
	CommissioningMethod    *string `db:"commissioning_method" json:"commissioningMethod,omitempty"`
	DiscoveryCapabilities  *string `db:"discovery_capabilities" json:"discoveryCapabilities,omitempty"`
	AdditionalComments     *string `db:"additional_comments" json:"additionalComments,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Equal reports whether two details carry the same observable fields,
// ignoring timestamps. Used by the persistence engine to classify an upsert
// as a duplicate (byte-equal) versus an update.
func (d *ProductDetail) Equal(other *ProductDetail) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.PageID == other.PageID &&
		d.IndexInPage == other.IndexInPage &&
		strPtrEqual(d.Manufacturer, other.Manufacturer) &&
		strPtrEqual(d.Model, other.Model) &&
		strPtrEqual(d.CertificateID, other.CertificateID) &&
		strPtrEqual(d.VendorID, other.VendorID) &&
		strPtrEqual(d.ProductID, other.ProductID) &&
		strPtrEqual(d.FirmwareVersion, other.FirmwareVersion) &&
		strPtrEqual(d.HardwareVersion, other.HardwareVersion) &&
		strPtrEqual(d.SoftwareVersion, other.SoftwareVersion) &&
		strPtrEqual(d.CertificationDate, other.CertificationDate) &&
		strPtrEqual(d.FamilyID, other.FamilyID) &&
		boolPtrEqual(d.TisTrpTested, other.TisTrpTested) &&
		strPtrEqual(d.SpecificationVersion, other.SpecificationVersion) &&
		strPtrEqual(d.TransportInterface, other.TransportInterface) &&
		strPtrEqual(d.PrimaryDeviceTypeID, other.PrimaryDeviceTypeID) &&
		strPtrEqual(d.ComplianceDocumentURL, other.ComplianceDocumentURL) &&
		strPtrEqual(d.ProgramType, other.ProgramType) &&
		strPtrEqual(d.DeviceType, other.DeviceType) &&
		strPtrEqual(d.CommissioningMethod, other.CommissioningMethod) &&
		strPtrEqual(d.DiscoveryCapabilities, other.DiscoveryCapabilities) &&
		strPtrEqual(d.AdditionalComments, other.AdditionalComments)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SiteStatus is the result of a StatusCheck stage execution.
type SiteStatus struct {
	TotalPages         int32   `json:"totalPages"`
	ProductsOnLastPage int32   `json:"productsOnLastPage"`
	EstimatedTotal      int64   `json:"estimatedTotal"`
	HealthScore        float64 `json:"healthScore"`
	Accessible         bool    `json:"accessible"`
}

// DbAnalysis is the PersistenceEngine's summary of the current products table.
type DbAnalysis struct {
	TotalProducts int64 `json:"totalProducts"`
	MaxPageID     int32 `json:"maxPageId"`
	MinPageID     int32 `json:"minPageId"`
	IsEmpty       bool  `json:"isEmpty"`
	QualityScore  float64 `json:"qualityScore"`
}

// CalculatedRange is the Planner's recommended physical-page span, in
// reverse order (start_oldest >= end_newest).
type CalculatedRange struct {
	StartOldest     int32  `json:"startOldest"`
	EndNewest       int32  `json:"endNewest"`
	TotalPages      int32  `json:"totalPages"`
	IsCompleteCrawl bool   `json:"isCompleteCrawl"`
	Reason          string `json:"reason"`
}

// SyncSessionStatus enumerates SyncSession.Status.
type SyncSessionStatus string

const (
	SyncSessionRunning   SyncSessionStatus = "running"
	SyncSessionCompleted SyncSessionStatus = "completed"
	SyncSessionFailed    SyncSessionStatus = "failed"
)

// SyncSession tracks one partial-resync run.
type SyncSession struct {
	SessionID    uuid.UUID         `db:"session_id" json:"sessionId"`
	CoverageText string            `db:"coverage_text" json:"coverageText"`
	Status       SyncSessionStatus `db:"status" json:"status"`
	StartedAt    time.Time         `db:"started_at" json:"startedAt"`
	FinishedAt   *time.Time        `db:"finished_at" json:"finishedAt,omitempty"`
}

// SyncObserved records one URL seen during a sync session, for the
// sweep-delete rule.
type SyncObserved struct {
	SessionID   uuid.UUID `db:"session_id" json:"sessionId"`
	URL         string    `db:"url" json:"url"`
	PageID      int32     `db:"page_id" json:"pageId"`
	IndexInPage int32     `db:"index_in_page" json:"indexInPage"`
}

// ActorContext is the immutable bundle cloned into every child actor: a
// session identity, a cancellation signal, an event sink, and the resolved
// run configuration. It never carries a back-pointer to its parent actor.
type ActorContext struct {
	SessionID     uuid.UUID
	BatchID       *uuid.UUID
	Cancel        CancelSignal
	Emit          EventEmitter
	Config        RunConfig
}

// CancelSignal is a capability handle for cooperative cancellation: any
// suspension point races its primary future against Done().
type CancelSignal interface {
	Done() <-chan struct{}
	Cancelled() bool
}

// EventEmitter is a capability handle for emitting the additive event
// schema; it never blocks the producer.
type EventEmitter interface {
	Emit(eventName string, data any)
}

// RunConfig is the resolved, immutable configuration for one session.
type RunConfig struct {
	PageSize                  int32
	BatchSize                 int32
	ListPageMaxConcurrent     int
	ProductDetailMaxConcurrent int
	ProductDetailRetryCount   int
	ParallelBatches           bool
	PageRangeLimit            int32
	VerificationPageCount     int32
	SessionTimeout            time.Duration
	StageTimeout              time.Duration
}
