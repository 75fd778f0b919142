package lake

import (
	"fmt"
	"strings"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// PartKey joins key segments into a bucket key
func PartKey(parts ...string) string {
	return strings.Join(parts, "/")
}

// PartFileName builds the content-addressed part-file name from a parameter
// fingerprint
func PartFileName(fingerprint string, ext string) string {
	return "part-" + fingerprint[:8] + ext
}

// BronzePartition returns the Hive-style partition path for a bronze write
func BronzePartition(endpointType domain.EndpointType, season *int, date string, asof string) string {
	switch endpointType {
	case domain.EndpointSnapshot:
		return "asof=" + asof
	case domain.EndpointSeason:
		return fmt.Sprintf("season=%d/asof=%s", derefSeason(season), asof)
	case domain.EndpointGameFanout:
		seasonSeg := "unknown"
		if season != nil {
			seasonSeg = fmt.Sprint(*season)
		}
		if date == "" {
			date = asof
		}
		return fmt.Sprintf("season=%s/date=%s", seasonSeg, date)
	case domain.EndpointDate:
		seasonSeg := ""
		if season != nil {
			seasonSeg = fmt.Sprint(*season)
		} else if len(date) >= 4 {
			seasonSeg = date[:4]
		}
		return fmt.Sprintf("season=%s/date=%s", seasonSeg, date)
	default:
		return "asof=" + asof
	}
}

// SilverPartition returns the partition path for a curated table write.
// Dimension tables snapshot by asof; fact tables prefer date then season.
func SilverPartition(table string, season *int, date string, asof string) string {
	if strings.HasPrefix(table, "dim_") {
		return "asof=" + asof
	}
	if date != "" {
		seasonSeg := date[:4]
		if season != nil {
			seasonSeg = fmt.Sprint(*season)
		}
		return fmt.Sprintf("season=%s/date=%s", seasonSeg, date)
	}
	if season != nil {
		return fmt.Sprintf("season=%d", *season)
	}
	return "asof=" + asof
}

// PartitionKeys extracts the partition column names from a partition path
func PartitionKeys(partition string) []string {
	if partition == "" {
		return nil
	}
	segments := strings.Split(partition, "/")
	keys := make([]string, 0, len(segments))
	for _, seg := range segments {
		name, _, ok := strings.Cut(seg, "=")
		if ok {
			keys = append(keys, name)
		}
	}
	return keys
}

func derefSeason(season *int) int {
	if season == nil {
		return 0
	}
	return *season
}
