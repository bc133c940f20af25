package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// weightFile maps layer name -> parameter name -> flat values.
type weightFile struct {
	Layers map[string]map[string]savedParam `json:"layers"`
}

type savedParam struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// SaveWeights writes every named layer's parameters to path, replacing the
// previous file atomically.
func (m *Sequential) SaveWeights(path string) error {
	wf := weightFile{Layers: map[string]map[string]savedParam{}}
	for _, l := range m.Layers {
		if len(l.Params()) == 0 || l.Name() == "" {
			continue
		}
		params := map[string]savedParam{}
		for _, p := range l.Params() {
			params[p.Name] = savedParam{Shape: p.Shape, Values: p.Value}
		}
		wf.Layers[l.Name()] = params
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadWeights copies parameters into layers whose names appear in the file.
// A missing file is not an error: it returns nil names (cold start).
func (m *Sequential) LoadWeights(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}

	var wf weightFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode weights %s: %w", path, err)
	}

	var loaded []string
	for _, l := range m.Layers {
		saved, ok := wf.Layers[l.Name()]
		if !ok {
			continue
		}
		for _, p := range l.Params() {
			sp, ok := saved[p.Name]
			if !ok {
				return loaded, fmt.Errorf("%w: layer %s has no %s", ErrShapeMismatch, l.Name(), p.Name)
			}
			if len(sp.Values) != len(p.Value) {
				return loaded, fmt.Errorf("%w: %s/%s saved %v, model %v", ErrShapeMismatch, l.Name(), p.Name, sp.Shape, p.Shape)
			}
		}
		for _, p := range l.Params() {
			copy(p.Value, saved[p.Name].Values)
		}
		loaded = append(loaded, l.Name())
	}
	return loaded, nil
}
