package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/tender-service/internal/domain"
)

var ErrNotFound = errors.New("tender not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var nonresidentialColumns = []string{
	"tender_id", "investmoscow_url", "address", "region_name", "district_name",
	"subway_stations", "object_area", "floor", "applications_enddate", "deposit",
	"start_price", "m1_start_price", "min_price", "m1_min_price", "procedure_form",
	"auction_step", "price_decrease_step", "tendering", "lat", "lon",
	"entrance_type", "windows", "ceilings", "images_links",
}

var parkingColumns = []string{
	"tender_id", "investmoscow_url", "address", "subway_stations", "region_name",
	"district_name", "object_area", "floor", "applications_enddate", "deposit",
	"start_price", "procedure_form", "parking_type", "parking_place", "count",
	"images_links",
}

func columns(c domain.Category) []string {
	if c == domain.ParkingSpace {
		return parkingColumns
	}
	return nonresidentialColumns
}

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// UpsertTenders writes every record in one transaction. An existing row with
// the same tender id has all of its columns replaced.
func (s *PostgresStore) UpsertTenders(ctx context.Context, tenders []*domain.Tender) error {
	if len(tenders) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range tenders {
		query, args, err := upsertQuery(t)
		if err != nil {
			return fmt.Errorf("build upsert for %s: %w", t.TenderID, err)
		}
		batch.Queue(query, args...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tenders: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateImageLinks sets only the images_links column of one record.
func (s *PostgresStore) UpdateImageLinks(ctx context.Context, category domain.Category, tenderID string, links []string) error {
	query, args, err := imageLinksQuery(category, tenderID, links)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, query, args...)
	return err
}

// GetTender retrieves one record by id.
func (s *PostgresStore) GetTender(ctx context.Context, category domain.Category, tenderID string) (*domain.Tender, error) {
	query, args, err := psql.Select(columns(category)...).
		From(category.Table()).
		Where(sq.Eq{"tender_id": tenderID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	t, err := scanTender(s.db.QueryRow(ctx, query, args...), category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Lookup fields accepted by ListTenders.
const (
	ByTenderID = "tender_id"
	ByAddress  = "address"
)

type ListFilter struct {
	Category domain.Category
	By       string
	Values   []string
}

// ListTenders returns records whose tender id or address is in the filter values.
// With no values every record of the category is returned.
func (s *PostgresStore) ListTenders(ctx context.Context, f ListFilter) ([]*domain.Tender, error) {
	query, args, err := listQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Tender
	for rows.Next() {
		t, err := scanTender(rows, f.Category)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteExpired removes records whose application deadline is at or before now
// and returns their ids.
func (s *PostgresStore) DeleteExpired(ctx context.Context, category domain.Category, now time.Time) ([]string, error) {
	query, args, err := deleteExpiredQuery(category, now)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("delete expired %s: %w", category, err)
	}
	return ids, nil
}

func upsertQuery(t *domain.Tender) (string, []any, error) {
	cols := columns(t.Category)
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return psql.Insert(t.Category.Table()).
		Columns(cols...).
		Values(values(t)...).
		Suffix("ON CONFLICT (tender_id) DO UPDATE SET " + strings.Join(sets, ", ")).
		ToSql()
}

func imageLinksQuery(category domain.Category, tenderID string, links []string) (string, []any, error) {
	return psql.Update(category.Table()).
		Set("images_links", links).
		Where(sq.Eq{"tender_id": tenderID}).
		ToSql()
}

func listQuery(f ListFilter) (string, []any, error) {
	b := psql.Select(columns(f.Category)...).From(f.Category.Table())
	if len(f.Values) > 0 {
		switch f.By {
		case ByTenderID, ByAddress:
			b = b.Where(sq.Eq{f.By: f.Values})
		default:
			return "", nil, fmt.Errorf("unsupported lookup field %q", f.By)
		}
	}
	return b.OrderBy("tender_id").ToSql()
}

func deleteExpiredQuery(category domain.Category, now time.Time) (string, []any, error) {
	return psql.Delete(category.Table()).
		Where(sq.LtOrEq{"applications_enddate": now}).
		Suffix("RETURNING tender_id").
		ToSql()
}

// values lists column values in the order returned by columns.
func values(t *domain.Tender) []any {
	common := []any{t.TenderID, t.InvestmoscowURL, t.Address}
	if t.Category == domain.ParkingSpace {
		p := t.ParkingFields
		if p == nil {
			p = &domain.ParkingFields{}
		}
		return append(common,
			t.SubwayStations, t.RegionName, t.DistrictName, t.ObjectArea, t.Floor,
			t.ApplicationsEnddate, t.Deposit, t.StartPrice, t.ProcedureForm,
			p.ParkingType, p.ParkingPlace, p.Count, t.ImagesLinks,
		)
	}
	n := t.NonresidentialFields
	if n == nil {
		n = &domain.NonresidentialFields{}
	}
	return append(common,
		t.RegionName, t.DistrictName, t.SubwayStations, t.ObjectArea, t.Floor,
		t.ApplicationsEnddate, t.Deposit, t.StartPrice, n.M1StartPrice, n.MinPrice,
		n.M1MinPrice, t.ProcedureForm, n.AuctionStep, n.PriceDecreaseStep, n.Tendering,
		n.Lat, n.Lon, n.EntranceType, n.Windows, n.Ceilings, t.ImagesLinks,
	)
}

func scanTender(row pgx.Row, category domain.Category) (*domain.Tender, error) {
	t := &domain.Tender{Category: category}
	var url *string
	common := []any{&t.TenderID, &url, &t.Address}

	var dest []any
	if category == domain.ParkingSpace {
		p := &domain.ParkingFields{}
		t.ParkingFields = p
		dest = append(common,
			&t.SubwayStations, &t.RegionName, &t.DistrictName, &t.ObjectArea, &t.Floor,
			&t.ApplicationsEnddate, &t.Deposit, &t.StartPrice, &t.ProcedureForm,
			&p.ParkingType, &p.ParkingPlace, &p.Count, &t.ImagesLinks,
		)
	} else {
		n := &domain.NonresidentialFields{}
		t.NonresidentialFields = n
		dest = append(common,
			&t.RegionName, &t.DistrictName, &t.SubwayStations, &t.ObjectArea, &t.Floor,
			&t.ApplicationsEnddate, &t.Deposit, &t.StartPrice, &n.M1StartPrice, &n.MinPrice,
			&n.M1MinPrice, &t.ProcedureForm, &n.AuctionStep, &n.PriceDecreaseStep, &n.Tendering,
			&n.Lat, &n.Lon, &n.EntranceType, &n.Windows, &n.Ceilings, &t.ImagesLinks,
		)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if url != nil {
		t.InvestmoscowURL = *url
	}
	return t, nil
}
