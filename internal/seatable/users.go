// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package seatable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/olegiv/onboardbot/internal/model"
)

// Column names of the Users table.
const (
	userMessengerIDColumn = "ID_messenger"
	userPhoneColumn       = "Phone"
	userRoleColumn        = "Role"
)

// ErrUserNotFound indicates no Users row matched the lookup.
var ErrUserNotFound = errors.New("user not found")

// Users reads and writes the Users table of the HR base. It implements
// the access gate's lookup capability.
type Users struct {
	client  *Client
	tableID string
}

// NewUsers creates a Users view over the given table.
func NewUsers(client *Client, tableID string) *Users {
	return &Users{client: client, tableID: tableID}
}

// IsAccessAllowed reports whether the messenger ID is bound to a Users row.
func (u *Users) IsAccessAllowed(ctx context.Context, userID int64) (bool, error) {
	row, err := u.findByMessengerID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// GetRole returns the user's role. Users without a recognized Role value
// are treated as employees.
func (u *Users) GetRole(ctx context.Context, userID int64) (model.Role, error) {
	row, err := u.findByMessengerID(ctx, userID)
	if err != nil {
		return "", err
	}

	role := model.Role(strings.ToLower(strings.TrimSpace(stringAt(row, userRoleColumn))))
	if !model.IsValidRole(role) {
		role = model.RoleEmployee
	}
	return role, nil
}

// RegisterMessengerID binds a messenger ID to the Users row matched by
// normalized phone number. This is the identity verification step of an
// unknown user's first session.
func (u *Users) RegisterMessengerID(ctx context.Context, phone string, userID int64) error {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return fmt.Errorf("phone %q does not normalize to digits", phone)
	}

	rows, err := u.client.FetchRawRows(ctx, u.tableID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if NormalizePhone(stringAt(row, userPhoneColumn)) != normalized {
			continue
		}
		rowID := stringAt(row, "_id")
		if rowID == "" {
			return fmt.Errorf("matched users row carries no id")
		}
		return u.client.UpdateRow(ctx, u.tableID, rowID, map[string]any{
			userMessengerIDColumn: strconv.FormatInt(userID, 10),
		})
	}
	return ErrUserNotFound
}

// ListMessengerIDs returns every bound messenger ID, for broadcast fan-out.
func (u *Users) ListMessengerIDs(ctx context.Context) ([]int64, error) {
	rows, err := u.client.FetchRawRows(ctx, u.tableID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, row := range rows {
		raw := stringAt(row, userMessengerIDColumn)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (u *Users) findByMessengerID(ctx context.Context, userID int64) (map[string]any, error) {
	rows, err := u.client.FetchRawRows(ctx, u.tableID)
	if err != nil {
		return nil, err
	}

	want := strconv.FormatInt(userID, 10)
	for _, row := range rows {
		if stringAt(row, userMessengerIDColumn) == want {
			return row, nil
		}
	}
	return nil, ErrUserNotFound
}

// NormalizePhone strips everything but digits and folds the Russian 8
// trunk prefix to 7, so stored and entered numbers compare equal.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	s := digits.String()
	if len(s) == 11 && s[0] == '8' {
		s = "7" + s[1:]
	}
	return s
}

func stringAt(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
