package command

import (
	"fmt"
	"strconv"
	"strings"
)

// DrawParams are the generation settings for one SiliconFlow draw.
type DrawParams struct {
	Input    string
	Model    string
	Steps    int
	Seed     int64
	Width    int
	Height   int
	Negative string
}

func (p DrawParams) Size() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// ParseDrawParams strips --steps, --seed, --size, --model and --no options
// from tail and fills the rest from def. --no takes every word up to the
// next option.
func ParseDrawParams(tail string, def DrawParams) (DrawParams, error) {
	p := def
	p.Input = ""
	var input []string
	fields := strings.Fields(tail)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if !strings.HasPrefix(f, "--") {
			input = append(input, f)
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(f, "--"))
		if name == "no" {
			var neg []string
			for i+1 < len(fields) && !strings.HasPrefix(fields[i+1], "--") {
				i++
				neg = append(neg, fields[i])
			}
			p.Negative = strings.Join(neg, " ")
			continue
		}
		if i+1 >= len(fields) {
			return p, fmt.Errorf("option --%s needs a value", name)
		}
		i++
		val := fields[i]
		switch name {
		case "steps":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return p, fmt.Errorf("invalid --steps %q", val)
			}
			p.Steps = n
		case "seed":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n < 0 {
				return p, fmt.Errorf("invalid --seed %q", val)
			}
			p.Seed = n
		case "size":
			w, h, ok := strings.Cut(strings.ToLower(val), "x")
			wi, werr := strconv.Atoi(w)
			hi, herr := strconv.Atoi(h)
			if !ok || werr != nil || herr != nil || wi <= 0 || hi <= 0 {
				return p, fmt.Errorf("invalid --size %q, want WxH", val)
			}
			p.Width, p.Height = wi, hi
		case "model":
			p.Model = val
		default:
			// unknown options stay in the prompt
			input = append(input, f, val)
		}
	}
	p.Input = strings.Join(input, " ")
	return p, nil
}
