// Package persistence provides storage interfaces and implementations for
// bus message archives and workflow execution records.
//
// The core runtime is in-memory; this package externalizes two things for
// multi-process deployments and auditing:
//  1. MessageStore: a write-mostly archive of bus traffic
//  2. ExecutionStore: terminal and in-flight workflow execution records
//
// Supported backends:
//   - Memory: For development and testing (default)
//   - Redis: For distributed deployments
//   - SQL (gorm): postgres, mysql or sqlite, schema managed by internal/migration
//   - MongoDB: document storage for execution records
package persistence
