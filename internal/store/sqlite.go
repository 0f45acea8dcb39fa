package store

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// sqlite stores DATETIME columns as UTC text in this layout.
const sqliteTimeLayout = "2006-01-02 15:04:05"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			product_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL,
			lowest_price INTEGER NOT NULL,
			highest_price INTEGER NOT NULL,
			average_price INTEGER NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			is_rocket INTEGER NOT NULL DEFAULT 0,
			is_free_shipping INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL,
			price INTEGER NOT NULL,
			day TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(product_id, day),
			FOREIGN KEY (product_id) REFERENCES products(product_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON price_history(created_at)`,
		`CREATE TABLE IF NOT EXISTS deeplinks (
			product_id INTEGER PRIMARY KEY,
			original_url TEXT NOT NULL,
			shorten_url TEXT NOT NULL,
			landing_url TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetProduct(productID int64) (*Product, error) {
	var p Product
	err := s.db.QueryRow(
		`SELECT product_id, name, image, url, price, lowest_price, highest_price,
			average_price, category, is_rocket, is_free_shipping, updated_at
		 FROM products WHERE product_id = ?`, productID,
	).Scan(&p.ProductID, &p.Name, &p.Image, &p.URL, &p.Price, &p.LowestPrice,
		&p.HighestPrice, &p.AveragePrice, &p.Category, &p.IsRocket, &p.IsFreeShipping, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProduct(p *Product) error {
	_, err := s.db.Exec(
		`INSERT INTO products (product_id, name, image, url, price, lowest_price,
			highest_price, average_price, category, is_rocket, is_free_shipping, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id) DO UPDATE SET
			name = excluded.name,
			image = excluded.image,
			url = excluded.url,
			price = excluded.price,
			lowest_price = excluded.lowest_price,
			highest_price = excluded.highest_price,
			average_price = excluded.average_price,
			category = excluded.category,
			is_rocket = excluded.is_rocket,
			is_free_shipping = excluded.is_free_shipping,
			updated_at = excluded.updated_at`,
		p.ProductID, p.Name, p.Image, p.URL, p.Price, p.LowestPrice,
		p.HighestPrice, p.AveragePrice, p.Category, p.IsRocket, p.IsFreeShipping,
		formatSQLiteTime(p.UpdatedAt))
	return err
}

func (s *SQLiteStore) HistoryPoints(productID int64) ([]PricePoint, error) {
	rows, err := s.db.Query(
		`SELECT id, product_id, price, day, created_at
		 FROM price_history WHERE product_id = ? ORDER BY day ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var pt PricePoint
		if err := rows.Scan(&pt.ID, &pt.ProductID, &pt.Price, &pt.Day, &pt.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

func (s *SQLiteStore) HistoryPointForDay(productID int64, day string) (*PricePoint, error) {
	var pt PricePoint
	err := s.db.QueryRow(
		`SELECT id, product_id, price, day, created_at
		 FROM price_history WHERE product_id = ? AND day = ?`, productID, day,
	).Scan(&pt.ID, &pt.ProductID, &pt.Price, &pt.Day, &pt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (s *SQLiteStore) InsertHistoryPoint(productID, price int64, day string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO price_history (product_id, price, day, created_at) VALUES (?, ?, ?, ?)",
		productID, price, day, formatSQLiteTime(at))
	return err
}

func (s *SQLiteStore) UpdateHistoryPointPrice(id, price int64) error {
	_, err := s.db.Exec("UPDATE price_history SET price = ? WHERE id = ?", price, id)
	return err
}

func (s *SQLiteStore) PurgeHistoryBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM price_history WHERE created_at < ?", formatSQLiteTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetDeeplink(productID int64) (*Deeplink, error) {
	var d Deeplink
	err := s.db.QueryRow(
		`SELECT product_id, original_url, shorten_url, landing_url, expires_at
		 FROM deeplinks WHERE product_id = ?`, productID,
	).Scan(&d.ProductID, &d.OriginalURL, &d.ShortenURL, &d.LandingURL, &d.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertDeeplink(d *Deeplink) error {
	_, err := s.db.Exec(
		`INSERT INTO deeplinks (product_id, original_url, shorten_url, landing_url, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(product_id) DO UPDATE SET
			original_url = excluded.original_url,
			shorten_url = excluded.shorten_url,
			landing_url = excluded.landing_url,
			expires_at = excluded.expires_at`,
		d.ProductID, d.OriginalURL, d.ShortenURL, d.LandingURL, formatSQLiteTime(d.ExpiresAt))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// formatSQLiteTime binds timestamps as UTC text so lexicographic DATETIME
// comparisons (retention purge) stay chronological. Reads scan straight into
// time.Time; the driver handles the conversion.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
