package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"propsync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valDec(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return p.String()
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valDate(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.Format("2006-01-02")
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func ptrStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func ptrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
func ptrDec(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

// Open parses the DSN, forces the options the scanners rely on and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, &domain.ConfigError{Field: "MYSQL_DSN", Msg: err.Error()}
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return db, nil
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (r *Repo) AttachAsset(ctx context.Context, job domain.AssetJob, ref string) (bool, error) {
	var q string
	switch job.Slot {
	case domain.SlotThumbnail:
		q = attachThumbnailSQL
	case domain.SlotBrochure:
		q = attachBrochureSQL
	case domain.SlotImage:
		q = attachImageSQL
	default:
		return false, fmt.Errorf("unknown asset slot %q", job.Slot)
	}
	res, err := r.db.ExecContext(ctx, q, ref, job.EntityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *Repo) SaveRun(ctx context.Context, run domain.SyncRun) error {
	var details []byte
	if len(run.ErrorDetails) > 0 {
		b, err := json.Marshal(run.ErrorDetails)
		if err != nil {
			return err
		}
		details = b
	}
	_, err := r.db.ExecContext(ctx, upsertRunSQL,
		run.ID,
		string(run.Type),
		string(run.Status),
		run.StartedAt.UTC(),
		valTime(run.CompletedAt),
		run.PropertiesProcessed,
		run.ConfigurationsProcessed,
		run.ImagesProcessed,
		run.AmenitiesProcessed,
		run.ErrorsCount,
		valJSON(details),
		run.Notes,
		run.DryRun,
		run.FilesDownloaded,
	)
	return err
}

func (r *Repo) ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncRun
	for rows.Next() {
		var (
			run       domain.SyncRun
			typ, st   string
			completed sql.NullTime
			details   []byte
			notes     sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &typ, &st, &run.StartedAt, &completed,
			&run.PropertiesProcessed, &run.ConfigurationsProcessed, &run.ImagesProcessed, &run.AmenitiesProcessed,
			&run.ErrorsCount, &details, &notes, &run.DryRun, &run.FilesDownloaded,
		); err != nil {
			return nil, err
		}
		run.Type, run.Status = domain.SyncType(typ), domain.RunStatus(st)
		run.CompletedAt = ptrTime(completed)
		run.Notes = notes.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &run.ErrorDetails); err != nil {
				return nil, fmt.Errorf("sync run %s error_details: %w", run.ID, err)
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *Repo) Counts(ctx context.Context) (domain.EntityCounts, error) {
	var c domain.EntityCounts
	err := r.db.QueryRowContext(ctx, countsSQL).Scan(&c.Properties, &c.Configurations, &c.Images, &c.Amenities)
	return c, err
}

// -----------------------------------------------------------------------------
// TRANSACTION
// -----------------------------------------------------------------------------

type Tx struct{ tx *sql.Tx }

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func scanProperty(row scanner) (domain.Property, error) {
	var (
		p            domain.Property
		ext          sql.NullString
		lat, lng     decimal.NullDecimal
		lux          string
		done, synced sql.NullTime
		thumb, broch sql.NullString
	)
	if err := row.Scan(
		&p.ID, &ext, &p.Name, &p.Slug, &p.Address, &p.Description, &lat, &lng,
		&p.ContactName, &p.ContactPhone, &lux, &p.IsActive, &done,
		&thumb, &broch, &synced,
	); err != nil {
		return domain.Property{}, notFound(err)
	}
	p.ExternalID = ptrStr(ext)
	p.Latitude, p.Longitude = ptrDec(lat), ptrDec(lng)
	p.Luxury = domain.Luxury(lux)
	p.CompletionDate = ptrTime(done)
	p.Thumbnail, p.Brochure = ptrStr(thumb), ptrStr(broch)
	p.LastSyncedAt = ptrTime(synced)
	return p, nil
}

func (t *Tx) PropertyByExternalID(ctx context.Context, id string) (domain.Property, error) {
	return scanProperty(t.tx.QueryRowContext(ctx, propertyByExternalIDSQL, id))
}

func (t *Tx) PropertyBySlug(ctx context.Context, slug string) (domain.Property, error) {
	return scanProperty(t.tx.QueryRowContext(ctx, propertyBySlugSQL, slug))
}

func (t *Tx) CreateProperty(ctx context.Context, p *domain.Property) error {
	res, err := t.tx.ExecContext(ctx, insertPropertySQL,
		valStr(p.ExternalID),
		p.Name,
		p.Slug,
		p.Address,
		p.Description,
		valDec(p.Latitude),
		valDec(p.Longitude),
		p.ContactName,
		p.ContactPhone,
		string(p.Luxury),
		p.IsActive,
		valDate(p.CompletionDate),
		valStr(p.Thumbnail),
		valStr(p.Brochure),
		valTime(p.LastSyncedAt),
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) UpdateProperty(ctx context.Context, p domain.Property) error {
	_, err := t.tx.ExecContext(ctx, updatePropertySQL,
		valStr(p.ExternalID),
		p.Name,
		p.Slug,
		p.Address,
		p.Description,
		valDec(p.Latitude),
		valDec(p.Longitude),
		p.ContactName,
		p.ContactPhone,
		string(p.Luxury),
		p.IsActive,
		valDate(p.CompletionDate),
		valTime(p.LastSyncedAt),
		p.ID,
	)
	return err
}

const deleteChunk = 500

// DeletePropertiesNotIn diffs the synced IDs against keep in Go and deletes
// the rest by primary key, deleteChunk rows per statement.
func (t *Tx) DeletePropertiesNotIn(ctx context.Context, keep []string) (int64, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	rows, err := t.tx.QueryContext(ctx, syncedPropertyIDsSQL)
	if err != nil {
		return 0, err
	}
	var doomed []any
	for rows.Next() {
		var (
			id  int64
			ext string
		)
		if err := rows.Scan(&id, &ext); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := keepSet[ext]; !ok {
			doomed = append(doomed, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var total int64
	for start := 0; start < len(doomed); start += deleteChunk {
		end := min(start+deleteChunk, len(doomed))
		chunk := doomed[start:end]
		q := deletePropertiesPrefix + strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		res, err := t.tx.ExecContext(ctx, q, chunk...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func scanConfiguration(row scanner) (domain.Configuration, error) {
	var (
		c      domain.Configuration
		price  decimal.NullDecimal
		synced sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.ExternalID, &c.PropertyID, &c.Type, &c.Bedrooms, &c.Bathrooms, &c.SquareFootage,
		&price, &c.IsAvailable, &synced,
	); err != nil {
		return domain.Configuration{}, notFound(err)
	}
	c.Price = ptrDec(price)
	c.LastSyncedAt = ptrTime(synced)
	return c, nil
}

func (t *Tx) ConfigurationByExternalID(ctx context.Context, id string) (domain.Configuration, error) {
	return scanConfiguration(t.tx.QueryRowContext(ctx, configurationByExternalIDSQL, id))
}

func (t *Tx) ConfigurationByType(ctx context.Context, propertyID int64, typ string) (domain.Configuration, error) {
	return scanConfiguration(t.tx.QueryRowContext(ctx, configurationByTypeSQL, propertyID, typ))
}

func (t *Tx) CreateConfiguration(ctx context.Context, c *domain.Configuration) error {
	res, err := t.tx.ExecContext(ctx, insertConfigurationSQL,
		c.ExternalID, c.PropertyID, c.Type, c.Bedrooms, c.Bathrooms, c.SquareFootage,
		valDec(c.Price), c.IsAvailable, valTime(c.LastSyncedAt),
	)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) UpdateConfiguration(ctx context.Context, c domain.Configuration) error {
	_, err := t.tx.ExecContext(ctx, updateConfigurationSQL,
		c.ExternalID, c.PropertyID, c.Type, c.Bedrooms, c.Bathrooms, c.SquareFootage,
		valDec(c.Price), c.IsAvailable, valTime(c.LastSyncedAt), c.ID,
	)
	return err
}

func scanImage(row scanner) (domain.Image, error) {
	var (
		i      domain.Image
		asset  sql.NullString
		synced sql.NullTime
	)
	if err := row.Scan(
		&i.ID, &i.ExternalID, &i.PropertyID, &asset, &i.AltText, &i.Order, &i.AttachmentIndex,
		&i.OriginalRecordID, &synced,
	); err != nil {
		return domain.Image{}, notFound(err)
	}
	i.Asset = ptrStr(asset)
	i.LastSyncedAt = ptrTime(synced)
	return i, nil
}

func (t *Tx) ImageByExternalID(ctx context.Context, id string) (domain.Image, error) {
	return scanImage(t.tx.QueryRowContext(ctx, imageByExternalIDSQL, id))
}

func (t *Tx) CreateImage(ctx context.Context, i *domain.Image) error {
	res, err := t.tx.ExecContext(ctx, insertImageSQL,
		i.ExternalID, i.PropertyID, i.AltText, i.Order, i.AttachmentIndex, i.OriginalRecordID, valTime(i.LastSyncedAt),
	)
	if err != nil {
		return err
	}
	i.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) UpdateImage(ctx context.Context, i domain.Image) error {
	_, err := t.tx.ExecContext(ctx, updateImageSQL,
		i.PropertyID, i.AltText, i.Order, i.AttachmentIndex, i.OriginalRecordID, valTime(i.LastSyncedAt), i.ID,
	)
	return err
}

func scanAmenity(row scanner) (domain.Amenity, error) {
	var (
		a      domain.Amenity
		synced sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.ExternalID, &a.PropertyID, &a.Name, &a.Description, &a.Icon, &synced); err != nil {
		return domain.Amenity{}, notFound(err)
	}
	a.LastSyncedAt = ptrTime(synced)
	return a, nil
}

func (t *Tx) AmenityByExternalID(ctx context.Context, id string) (domain.Amenity, error) {
	return scanAmenity(t.tx.QueryRowContext(ctx, amenityByExternalIDSQL, id))
}

func (t *Tx) AmenityByName(ctx context.Context, propertyID int64, name string) (domain.Amenity, error) {
	return scanAmenity(t.tx.QueryRowContext(ctx, amenityByNameSQL, propertyID, name))
}

func (t *Tx) CreateAmenity(ctx context.Context, a *domain.Amenity) error {
	res, err := t.tx.ExecContext(ctx, insertAmenitySQL,
		a.ExternalID, a.PropertyID, a.Name, a.Description, a.Icon, valTime(a.LastSyncedAt),
	)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) UpdateAmenity(ctx context.Context, a domain.Amenity) error {
	_, err := t.tx.ExecContext(ctx, updateAmenitySQL,
		a.ExternalID, a.PropertyID, a.Name, a.Description, a.Icon, valTime(a.LastSyncedAt), a.ID,
	)
	return err
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Savepoint names cannot be bound as parameters; they are validated instead.
func (t *Tx) savepoint(ctx context.Context, stmt, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	_, err := t.tx.ExecContext(ctx, stmt+name)
	return err
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return t.savepoint(ctx, "SAVEPOINT ", name)
}

func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	return t.savepoint(ctx, "ROLLBACK TO SAVEPOINT ", name)
}

func (t *Tx) Release(ctx context.Context, name string) error {
	return t.savepoint(ctx, "RELEASE SAVEPOINT ", name)
}

func (t *Tx) Commit() error { return t.tx.Commit() }

func (t *Tx) Rollback() error { return t.tx.Rollback() }
