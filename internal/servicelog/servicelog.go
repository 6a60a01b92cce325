// Package servicelog provides the thin logging convenience used by
// every background service and pipeline stage, tagging each line with
// the emitting component's name the way the teacher tags DEX operations.
package servicelog

import "log"

func Infof(component, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{component}, args...)...)
}

func Warnf(component, format string, args ...any) {
	log.Printf("[%s] WARN: "+format, append([]any{component}, args...)...)
}

func Errorf(component, format string, args ...any) {
	log.Printf("[%s] ERROR: "+format, append([]any{component}, args...)...)
}
