package utils

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const DateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC 3339 and returns midnight UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return models.DateOnly(t), nil
}

// PathID reads a numeric mux variable.
func PathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil || id == 0 {
		return 0, BadRequest("Invalid " + name)
	}
	return uint(id), nil
}

// MonthYear reads month and year query parameters, defaulting to now.
func MonthYear(r *http.Request, now time.Time) (int, int, error) {
	month, year := int(now.Month()), now.Year()
	q := r.URL.Query()
	if s := q.Get("month"); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, FieldError("month", "must be between 1 and 12")
		}
		month = m
	}
	if s := q.Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1900 || y > 9999 {
			return 0, 0, FieldError("year", "must be a valid year")
		}
		year = y
	}
	return month, year, nil
}

// FindOwned loads a row by primary key and checks it belongs to userID.
// Missing rows map to ErrNotFound and foreign rows to ErrForbidden.
func FindOwned(tx *gorm.DB, dst models.Owned, id, userID uint) error {
	if err := tx.First(dst, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if dst.OwnerID() != userID {
		return ErrForbidden
	}
	return nil
}

// PaginatedResponse represents the standard paginated API response structure
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

func NewPaginationMeta(page, perPage int, totalItems int64) PaginationMeta {
	totalPages := int(math.Ceil(float64(totalItems) / float64(perPage)))
	return PaginationMeta{
		CurrentPage: page,
		PerPage:     perPage,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
	}
}

// ParsePaginationParams extracts and validates pagination parameters from request
func ParsePaginationParams(r *http.Request) (int, int, error) {
	query := r.URL.Query()

	page := 1
	if query.Get("page") != "" {
		parsedPage, err := strconv.Atoi(query.Get("page"))
		if err != nil || parsedPage < 1 {
			return 0, 0, BadRequest("Invalid pagination parameters")
		}
		page = parsedPage
	}

	// Default 20, capped at 100.
	perPage := 20
	if query.Get("per_page") != "" {
		parsedPerPage, err := strconv.Atoi(query.Get("per_page"))
		if err != nil || parsedPerPage < 1 {
			return 0, 0, BadRequest("Invalid pagination parameters")
		}
		perPage = min(parsedPerPage, 100)
	}

	return page, perPage, nil
}

// LoadUser fetches the signed-in user, mapping a missing row to 401 since
// the token outlived the account.
func LoadUser(tx *gorm.DB, userID uint) (models.User, error) {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user, ErrUnauthorized
		}
		return user, err
	}
	return user, nil
}
