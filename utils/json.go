package utils

import (
	"encoding/json"
	"fmt"
)

// EnsureNewlineBytes asegura que los bytes JSON terminen con \n (line-delimited).
//
// El event log es un archivo de una línea JSON por registro; todos los
// appends pasan por aquí.
func EnsureNewlineBytes(data []byte) []byte {
	if len(data) == 0 || data[len(data)-1] != '\n' {
		return append(data, '\n')
	}
	return data
}

// MarshalJSON serializa cualquier valor a JSON.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// MustMarshalJSON serializa a JSON o entra en pánico.
//
// Útil para casos donde el error es catastrófico (structs propios sin
// tipos no serializables).
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustMarshalJSON: %v", err))
	}
	return data
}
