package parking

import (
	"fmt"
	"strconv"
	"strings"

	"parking-manager/internal/vehicle"
)

// ParseLayout expands "CAR:10,MOTORCYCLE:4" into spot specs numbered from 1
// in the order the categories are listed. Ids are "S001", "S002", ...
func ParseLayout(layout string) ([]SpotSpec, error) {
	var specs []SpotSpec
	number := 0

	for part := range strings.SplitSeq(layout, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, n, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("layout entry %q: want CATEGORY:COUNT", part)
		}
		category, err := vehicle.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("layout entry %q: %w", part, err)
		}
		size, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || size < 0 {
			return nil, fmt.Errorf("layout entry %q: invalid count", part)
		}

		for range size {
			number++
			specs = append(specs, SpotSpec{
				ID:       fmt.Sprintf("S%03d", number),
				Number:   number,
				Category: category,
				Status:   StatusFree,
			})
		}
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("layout %q has no spots", layout)
	}
	return specs, nil
}
