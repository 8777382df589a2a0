// Package vatctx holds the per-vat state shared by the GC components.
//
// There are no package-level registries: every component receives the
// Context of the vat it serves.
package vatctx
