// Package database owns the connection handle: configuration, lifecycle,
// the record registry, table provisioning, SQL seed execution, and the
// scoped transaction repositories run under. A process-default handle is
// available through Default and Init; additional handles come from New.
package database
