// Package testutil wires the vat's internal managers over an in-memory
// store for tests.
//
// This package is intended for use in tests only.
//
//	s := testutil.NewStack(nil, vom.Options{})
//	obj := s.Import(1)
//	res, err := s.Reap(ctx)
//
// Values are collected explicitly through the ManualHost:
//
//	s.Drop(obj)
package testutil
