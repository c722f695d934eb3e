package domain

import "errors"

var (
	ErrUnknownEmoji = errors.New("emoji not in accepted palette")
	ErrRateLimited  = errors.New("submit rate limit exceeded")
	ErrPostNotFound = errors.New("post not found")
)
