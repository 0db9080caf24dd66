// Package utils holds the slice helpers used to walk SDK responses.
package utils

import "strings"

func Map[T, U any](items []T, fn func(T) U) []U {
	mapped := make([]U, 0, len(items))
	for _, item := range items {
		mapped = append(mapped, fn(item))
	}
	return mapped
}

// FlatMap concatenates fn(item) for every item, in order.
func FlatMap[T, U any](items []T, fn func(T) []U) []U {
	var flattened []U
	for _, item := range items {
		flattened = append(flattened, fn(item)...)
	}
	return flattened
}

// Fold threads acc through fn for every item. E.g., growing a bounding box vertex by vertex.
func Fold[T, A any](items []T, acc A, fn func(A, T) A) A {
	for _, item := range items {
		acc = fn(acc, item)
	}
	return acc
}

// JoinNonEmpty joins the parts that hold more than whitespace, each trimmed.
func JoinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, sep)
}
