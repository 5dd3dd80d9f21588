package chat

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const conversationCols = `c.id, c.boat_id, c.buyer_id, c.seller_id, c.last_message_at,
        c.buyer_last_read_at, c.seller_last_read_at, c.is_archived_by_buyer,
        c.is_archived_by_seller, c.created_at`

func conversationDest(c *Conversation) []any {
	return []any{
		&c.ID, &c.BoatID, &c.BuyerID, &c.SellerID, &c.LastMessageAt,
		&c.BuyerLastReadAt, &c.SellerLastReadAt, &c.IsArchivedByBuyer,
		&c.IsArchivedBySeller, &c.CreatedAt,
	}
}

func scanConversation(row scanner) (*Conversation, error) {
	c := &Conversation{}
	if err := row.Scan(conversationDest(c)...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

const messageCols = `m.id, m.conversation_id, m.sender_id, m.message, m.is_read, m.created_at`

const messageWithSenderQuery = `SELECT ` + messageCols + `, p.id, p.username, p.avatar_url
        FROM messages m
        JOIN profiles p ON p.id = m.sender_id`

func scanMessageWithSender(row scanner) (*MessageWithSender, error) {
	m := &MessageWithSender{}
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.IsRead, &m.CreatedAt,
		&m.Sender.ID, &m.Sender.Username, &m.Sender.AvatarURL,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationCols + ` FROM conversations c WHERE c.id = $1`
	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil && err != ErrNotFound {
		return nil, errors.Wrap(err, "chatRepo.GetConversation.Scan")
	}
	return c, err
}

func (r *Repository) FindConversation(ctx context.Context, boatID, buyerID, sellerID string) (*Conversation, error) {
	query := `SELECT ` + conversationCols + ` FROM conversations c
        WHERE c.boat_id = $1 AND c.buyer_id = $2 AND c.seller_id = $3`
	c, err := scanConversation(r.db.QueryRowContext(ctx, query, boatID, buyerID, sellerID))
	if err != nil && err != ErrNotFound {
		return nil, errors.Wrap(err, "chatRepo.FindConversation.Scan")
	}
	return c, err
}

func filterClause(filter Filter) (string, error) {
	const (
		buying  = `(c.buyer_id = $1 AND NOT c.is_archived_by_buyer)`
		selling = `(c.seller_id = $1 AND NOT c.is_archived_by_seller)`
	)
	switch filter {
	case FilterBuying:
		return buying, nil
	case FilterSelling:
		return selling, nil
	case FilterAll, "":
		return buying + ` OR ` + selling, nil
	}
	return "", fmt.Errorf("unknown filter %q", filter)
}

func (r *Repository) ListConversations(ctx context.Context, userID string, filter Filter) ([]ConversationListing, error) {
	where, err := filterClause(filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + conversationCols + `,
            b.id, b.title, b.make, b.model, b.price::float8,
            (SELECT p.photo_url FROM boat_photos p WHERE p.boat_id = b.id
                ORDER BY p.is_primary DESC, p.id ASC LIMIT 1),
            pb.id, pb.username, pb.avatar_url,
            ps.id, ps.username, ps.avatar_url
        FROM conversations c
        JOIN boats b ON b.id = c.boat_id
        JOIN profiles pb ON pb.id = c.buyer_id
        JOIN profiles ps ON ps.id = c.seller_id
        WHERE ` + where + `
        ORDER BY c.last_message_at DESC, c.id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversations.Query")
	}
	defer rows.Close()

	out := []ConversationListing{}
	for rows.Next() {
		var cl ConversationListing
		dest := append(conversationDest(&cl.Conversation),
			&cl.Listing.ID, &cl.Listing.Title, &cl.Listing.Make, &cl.Listing.Model, &cl.Listing.Price,
			&cl.Listing.PhotoURL,
			&cl.Buyer.ID, &cl.Buyer.Username, &cl.Buyer.AvatarURL,
			&cl.Seller.ID, &cl.Seller.Username, &cl.Seller.AvatarURL,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "chatRepo.ListConversations.Scan")
		}
		out = append(out, cl)
	}
	return out, errors.Wrap(rows.Err(), "chatRepo.ListConversations.Rows")
}

func (r *Repository) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages m
        WHERE m.conversation_id = $1
        ORDER BY m.created_at DESC, m.seq DESC
        LIMIT 1`

	m := &Message{}
	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.IsRead, &m.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "chatRepo.LatestMessage.Scan")
	}
	return m, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]MessageWithSender, error) {
	// seq breaks ties between rows committed within the same timestamp tick.
	query := messageWithSenderQuery + `
        WHERE m.conversation_id = $1
        ORDER BY m.created_at ASC, m.seq ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListMessages.Query")
	}
	defer rows.Close()

	out := []MessageWithSender{}
	for rows.Next() {
		m, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, errors.Wrap(err, "chatRepo.ListMessages.Scan")
		}
		out = append(out, *m)
	}
	return out, errors.Wrap(rows.Err(), "chatRepo.ListMessages.Rows")
}

func (r *Repository) GetMessage(ctx context.Context, id string) (*MessageWithSender, error) {
	m, err := scanMessageWithSender(r.db.QueryRowContext(ctx, messageWithSenderQuery+` WHERE m.id = $1`, id))
	if err != nil && err != ErrNotFound {
		return nil, errors.Wrap(err, "chatRepo.GetMessage.Scan")
	}
	return m, err
}

func (r *Repository) MarkRead(ctx context.Context, viewerID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = true
        WHERE id = ANY($1) AND sender_id <> $2 AND is_read = false`,
		messageIDs, viewerID)
	if err != nil {
		return 0, errors.Wrap(err, "chatRepo.MarkRead.Exec")
	}
	return res.RowsAffected()
}

func lastReadColumn(role Role) (string, error) {
	switch role {
	case RoleBuyer:
		return "buyer_last_read_at", nil
	case RoleSeller:
		return "seller_last_read_at", nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}

func archivedColumn(role Role) (string, error) {
	switch role {
	case RoleBuyer:
		return "is_archived_by_buyer", nil
	case RoleSeller:
		return "is_archived_by_seller", nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}

func (r *Repository) TouchLastRead(ctx context.Context, conversationID string, role Role, at time.Time) error {
	col, err := lastReadColumn(role)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE conversations SET `+col+` = $2 WHERE id = $1`, conversationID, at)
	return errors.Wrap(err, "chatRepo.TouchLastRead.Exec")
}

func (r *Repository) Archive(ctx context.Context, conversationID string, role Role) error {
	col, err := archivedColumn(role)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET `+col+` = true WHERE id = $1`, conversationID)
	if err != nil {
		return errors.Wrap(err, "chatRepo.Archive.Exec")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SendMessage runs the whole send in one transaction, so a failed message insert
// never leaves an empty conversation behind.
func (r *Repository) SendMessage(ctx context.Context, p SendParams) (*Conversation, *MessageWithSender, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.Begin")
	}
	defer tx.Rollback()

	convID := p.ConversationID
	if convID == "" {
		// A racing first message from the same buyer lands on the existing row.
		err := tx.QueryRowContext(ctx,
			`INSERT INTO conversations (id, boat_id, buyer_id, seller_id)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (boat_id, buyer_id, seller_id) DO UPDATE SET boat_id = EXCLUDED.boat_id
            RETURNING id`,
			p.NewConversationID, p.BoatID, p.BuyerID, p.SellerID,
		).Scan(&convID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.UpsertConversation")
		}
	}

	msg := &MessageWithSender{Message: Message{
		ID:             p.MessageID,
		ConversationID: convID,
		SenderID:       p.SenderID,
		Text:           p.Text,
	}}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, message)
        VALUES ($1, $2, $3, $4)
        RETURNING is_read, created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text,
	).Scan(&msg.IsRead, &msg.CreatedAt)
	if err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.InsertMessage")
	}

	conv, err := scanConversation(tx.QueryRowContext(ctx,
		`UPDATE conversations c
        SET last_message_at = $2, is_archived_by_buyer = false, is_archived_by_seller = false
        WHERE c.id = $1
        RETURNING `+conversationCols,
		convID, msg.CreatedAt,
	))
	if err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.BumpConversation")
	}

	err = tx.QueryRowContext(ctx,
		`SELECT id, username, avatar_url FROM profiles WHERE id = $1`, msg.SenderID,
	).Scan(&msg.Sender.ID, &msg.Sender.Username, &msg.Sender.AvatarURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.Sender")
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.SendMessage.Commit")
	}
	return conv, msg, nil
}
