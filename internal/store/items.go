package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/lostfound/internal/model"
)

// ItemFields holds the user-editable fields of an item.
type ItemFields struct {
	Title       string
	Description string
	Type        string
	Location    string
	Contact     string
}

// ItemFilter narrows ListItems and CountItems. Zero values mean "any".
type ItemFilter struct {
	Type   string
	Query  string
	UserID int64
	Limit  int
	Offset int
}

const itemColumns = `i.id, i.user_id, i.title, i.description, i.type, i.location, i.contact,
	i.image IS NOT NULL, i.created_at, i.updated_at, COALESCE(u.username, '')`

func scanItem(row interface{ Scan(...any) error }, item *model.Item) error {
	var userID sql.NullInt64
	var description, location, contact sql.NullString
	err := row.Scan(&item.ID, &userID, &item.Title, &description, &item.Type, &location, &contact,
		&item.HasImage, &item.CreatedAt, &item.UpdatedAt, &item.Username)
	if err != nil {
		return err
	}
	if userID.Valid {
		item.UserID = &userID.Int64
	}
	item.Description = description.String
	item.Location = location.String
	item.Contact = contact.String
	return nil
}

// CreateItem creates a new item posted by userID (nil for anonymous reports).
func CreateItem(ctx context.Context, db *sql.DB, userID *int64, f ItemFields) (*model.Item, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (user_id, title, description, type, location, contact)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, f.Title, f.Description, f.Type, f.Location, f.Contact,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item := &model.Item{}
	err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+`
		 FROM items i LEFT JOIN users u ON u.id = i.user_id
		 WHERE i.id = ?`, id,
	), item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// likeEscaper escapes LIKE wildcards with '!', which both SQLite and MySQL
// accept as an explicit ESCAPE character.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// where builds the WHERE clause and its arguments for the filter.
func (f ItemFilter) where() (string, []any) {
	var conds []string
	var args []any

	if f.Type != "" {
		conds = append(conds, "i.type = ?")
		args = append(args, f.Type)
	}
	if f.UserID != 0 {
		conds = append(conds, "i.user_id = ?")
		args = append(args, f.UserID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + likeEscaper.Replace(q) + "%"
		conds = append(conds,
			`(i.title LIKE ? ESCAPE '!' OR i.description LIKE ? ESCAPE '!' OR i.location LIKE ? ESCAPE '!')`)
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListItems returns items matching the filter, newest first.
func ListItems(ctx context.Context, db *sql.DB, f ItemFilter) ([]model.Item, error) {
	where, args := f.where()
	query := `SELECT ` + itemColumns + `
		FROM items i LEFT JOIN users u ON u.id = i.user_id` + where + `
		ORDER BY i.created_at DESC, i.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountItems returns the number of items matching the filter, ignoring
// Limit and Offset.
func CountItems(ctx context.Context, db *sql.DB, f ItemFilter) (int, error) {
	where, args := f.where()
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items i`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return n, nil
}

// UpdateItem updates an item's metadata.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, f ItemFields) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET title = ?, description = ?, type = ?, location = ?, contact = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		f.Title, f.Description, f.Type, f.Location, f.Contact, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// DeleteItem removes an item along with its pending deletion requests.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Pending requests have nothing left to decide. Resolved ones stay.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM deletion_requests WHERE item_id = ? AND status = ?`,
		id, model.RequestStatusPending,
	)
	if err != nil {
		return fmt.Errorf("dropping pending deletion requests: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return tx.Commit()
}

// SetItemImage stores an item's photo and its thumbnail.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image, thumb []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_thumb = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		image, thumb, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's photo (or thumbnail) and its MIME type.
// Returns nil data if the item has no photo.
func GetItemImage(ctx context.Context, db *sql.DB, id int64, thumb bool) ([]byte, string, error) {
	query := `SELECT image, image_mime FROM items WHERE id = ?`
	if thumb {
		query = `SELECT image_thumb, image_mime FROM items WHERE id = ?`
	}

	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx, query, id).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
