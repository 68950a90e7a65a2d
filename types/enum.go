/*
 * Copyright 2025 tomoncle.
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

package types

// Fallback values returned by enum accessors for out-of-range numbers,
// typically a status column holding a value no constant maps to.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum is the contract for enumerated record columns such as status
// flags. Concrete enums are integer-backed so they persist as plain numeric
// columns; Name and Desc give the textual forms for interchange and logs.
type BaseEnum interface {
	// IsValid reports whether the stored number maps to a declared constant.
	IsValid() bool
	// Number is the persisted column value.
	Number() int
	String() string
	Desc() string
	Name() string
}

// EnumName returns the enum's name, or the illegal-name fallback when the
// stored value is out of range.
func EnumName(e BaseEnum) string {
	if e == nil || !e.IsValid() {
		return IllegalName
	}
	return e.Name()
}
