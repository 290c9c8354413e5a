package validator

import "fmt"

type countError struct {
	got, min, max int
}

func (e countError) Error() string {
	return fmt.Sprintf("got %d photos, need between %d and %d", e.got, e.min, e.max)
}

type duplicateError struct {
	first int
	ref   string
}

func (e duplicateError) Error() string {
	return fmt.Sprintf("same image as #%d %q", e.first, e.ref)
}
