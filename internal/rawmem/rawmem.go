/*
 * Copyright 2024 gcmalloc Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package rawmem collects the small unsafe-pointer helpers the slot
// package uses to convert between a []byte-backed chunk and the bare
// uintptr address a Slot carries, without pulling in reflect.
package rawmem

import "unsafe"

// Addr returns the address of the first byte of b, or 0 for an empty slice.
func Addr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// At returns a pointer to byte offset off from base.
func At(base uintptr, off uintptr) unsafe.Pointer {
	return unsafe.Pointer(base + off)
}

// Slice reinterprets the n bytes starting at addr as a []byte without
// copying. Callers must guarantee addr+n stays within a live allocation.
func Slice(addr uintptr, n int) []byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
