// Package app provides the application service layer.
//
// The Processor turns one prompt into one feed entry: validate, call the
// generator without holding any lock, then append and broadcast as a single
// ordered commit. Depends on domain interfaces, not concrete implementations.
package app
