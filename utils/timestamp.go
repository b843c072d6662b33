package utils

import (
	"time"
)

// NowUnixMilli retorna el timestamp actual en milisegundos desde Unix epoch.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// UnixMilliToTime convierte un timestamp Unix en milisegundos a time.Time.
func UnixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ElapsedMsSince calcula los milisegundos transcurridos desde un time.Time dado.
//
// Example:
//
//	start := time.Now()
//	// ... operación ...
//	elapsed := utils.ElapsedMsSince(start)
func ElapsedMsSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// UTCDateKey retorna la fecha UTC en formato YYYY-MM-DD.
//
// Es la clave de partición diaria de RouteStats: los contadores se
// resetean implícitamente al cambiar de fecha en UTC.
func UTCDateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
