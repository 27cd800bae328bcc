package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// ErrDepositNotFound is returned when no deposit matches the requested id.
var ErrDepositNotFound = errors.New("deposit not found")

const qrCacheTTL = 5 * time.Minute

// QRService renders the stored payment URL of a deposit as a scannable
// PNG. Images are cached in Redis when available.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

// PaymentLinkQR returns the payment URL of the deposit matching id (by
// transaction or external id) and its QR image as base64 PNG.
func (s *QRService) PaymentLinkQR(ctx context.Context, id string) (string, string, error) {
	key := fmt.Sprintf("deposit_qr:%s", id)

	var paymentURL sql.NullString
	err := s.db.QueryRow(`
        SELECT payment_url FROM deposits
        WHERE transaction_id = $1 OR external_id = $1
        LIMIT 1
    `, id).Scan(&paymentURL)
	if err == sql.ErrNoRows {
		return "", "", ErrDepositNotFound
	}
	if err != nil {
		return "", "", err
	}
	if paymentURL.String == "" {
		return "", "", fmt.Errorf("deposit %s has no payment URL", id)
	}

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return paymentURL.String, cached, nil
		}
	}

	qr, err := qrcode.New(paymentURL.String, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		s.redis.Set(ctx, key, qrImage, qrCacheTTL)
	}

	return paymentURL.String, qrImage, nil
}
