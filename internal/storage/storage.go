package storage

import "errors"

const (
	UniqueViolation = "23505"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrPriceRecordNotFound = errors.New("price record not found")
	ErrProductExists       = errors.New("product already exists")
	ErrCacheMiss           = errors.New("cache miss")
)
