package fileserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Directorio is one top-level directory of a user.
type Directorio struct {
	Nombre string `json:"nombre" jsonschema:"nombre del directorio"`
	Ruta   string `json:"ruta" jsonschema:"path completo del directorio"`
}

// Archivo is one file found under a directory.
type Archivo struct {
	Nombre    string `json:"nombre" jsonschema:"nombre del archivo"`
	Ruta      string `json:"ruta" jsonschema:"ruta completa del archivo"`
	Extension string `json:"extension" jsonschema:"extensión del archivo"`
}

// DirectoriosInput names the user whose directories are listed.
type DirectoriosInput struct {
	Usuario string `json:"usuario" jsonschema:"nombre del usuario propietario de los directorios"`
}

// DirectoriosOutput wraps the directory list for output schema compliance.
type DirectoriosOutput struct {
	Directorios []Directorio `json:"directorios"`
}

// ArchivosInput selects and filters the files of one directory.
type ArchivosInput struct {
	Directorio            string `json:"directorio" jsonschema:"ruta del directorio a explorar"`
	IncluirSubdirectorios bool   `json:"incluir_subdirectorios,omitempty" jsonschema:"si incluir archivos de subdirectorios"`
	PatronBusqueda        string `json:"patron_busqueda,omitempty" jsonschema:"patrón para buscar archivos, ej *.txt o documento*"`
	FiltroNombre          string `json:"filtro_nombre,omitempty" jsonschema:"texto que debe contener el nombre del archivo"`
	Extension             string `json:"extension,omitempty" jsonschema:"extensión específica a buscar, ej .pdf"`
}

// ArchivosOutput wraps the file list for output schema compliance.
type ArchivosOutput struct {
	Archivos []Archivo `json:"archivos"`
}

// principalDirs maps directory labels to the conventional home
// subdirectory backing them. The empty sub is the home itself.
var principalDirs = []struct {
	nombre string
	sub    string
}{
	{"home", ""},
	{"documentos", "Documents"},
	{"descargas", "Downloads"},
	{"musica", "Music"},
	{"videos", "Videos"},
}

func (s *Server) handleDirectorios(ctx context.Context, _ *mcp.CallToolRequest, in DirectoriosInput) (*mcp.CallToolResult, DirectoriosOutput, error) {
	if err := s.delay(ctx); err != nil {
		return nil, DirectoriosOutput{}, err
	}

	usuario := strings.TrimSpace(in.Usuario)
	// A user name never names a path, so anything that escapes its own
	// home directory is treated as unknown.
	if usuario == "" || usuario != filepath.Base(usuario) {
		return nil, DirectoriosOutput{}, fmt.Errorf("El usuario '%s' no existe.", in.Usuario)
	}
	home := filepath.Join(s.root, usuario)
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		return nil, DirectoriosOutput{}, fmt.Errorf("El usuario '%s' no existe.", usuario)
	}

	dirs := make([]Directorio, 0, len(principalDirs))
	for _, cand := range principalDirs {
		ruta := home
		if cand.sub != "" {
			ruta = filepath.Join(home, cand.sub)
		}
		info, err := os.Stat(ruta)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, Directorio{Nombre: cand.nombre, Ruta: ruta})
	}

	s.logger.Debug("listed principal directories", "usuario", usuario, "found", len(dirs))
	return nil, DirectoriosOutput{Directorios: dirs}, nil
}

func (s *Server) handleArchivos(ctx context.Context, _ *mcp.CallToolRequest, in ArchivosInput) (*mcp.CallToolResult, ArchivosOutput, error) {
	if err := s.delay(ctx); err != nil {
		return nil, ArchivosOutput{}, err
	}

	dir := strings.TrimSpace(in.Directorio)
	if dir == "" {
		return nil, ArchivosOutput{}, fmt.Errorf("El directorio '%s' no existe.", in.Directorio)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, ArchivosOutput{}, fmt.Errorf("El directorio '%s' no existe.", dir)
	}
	if !s.underRoot(abs) {
		return nil, ArchivosOutput{}, fmt.Errorf("El directorio '%s' está fuera de la raíz permitida.", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsPermission(err) {
			return nil, ArchivosOutput{}, fmt.Errorf("Sin permisos para acceder al directorio: %s", dir)
		}
		return nil, ArchivosOutput{}, fmt.Errorf("El directorio '%s' no existe.", dir)
	}
	if !info.IsDir() {
		return nil, ArchivosOutput{}, fmt.Errorf("'%s' no es un directorio.", dir)
	}

	s.logger.Debug("searching files",
		"directorio", dir,
		"recursive", in.IncluirSubdirectorios,
		"patron", in.PatronBusqueda,
		"filtro", in.FiltroNombre,
		"extension", in.Extension)

	archivos, err := collectFiles(abs, in)
	if err != nil {
		switch {
		case errors.Is(err, filepath.ErrBadPattern):
			return nil, ArchivosOutput{}, fmt.Errorf("El patrón de búsqueda '%s' no es válido.", in.PatronBusqueda)
		case os.IsPermission(err):
			return nil, ArchivosOutput{}, fmt.Errorf("Sin permisos para acceder al directorio: %s", dir)
		default:
			return nil, ArchivosOutput{}, fmt.Errorf("Error al buscar archivos: %v", err)
		}
	}

	sort.Slice(archivos, func(i, j int) bool {
		return strings.ToLower(archivos[i].Nombre) < strings.ToLower(archivos[j].Nombre)
	})
	return nil, ArchivosOutput{Archivos: archivos}, nil
}

// collectFiles gathers the files of dir that pass every filter in the
// request, walking subdirectories only when asked to.
func collectFiles(dir string, in ArchivosInput) ([]Archivo, error) {
	matches := func(name string) (bool, error) {
		if in.PatronBusqueda != "" {
			ok, err := filepath.Match(in.PatronBusqueda, name)
			if err != nil || !ok {
				return false, err
			}
		}
		if in.FiltroNombre != "" &&
			!strings.Contains(strings.ToLower(name), strings.ToLower(in.FiltroNombre)) {
			return false, nil
		}
		if in.Extension != "" {
			ext := in.Extension
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			if !strings.EqualFold(filepath.Ext(name), ext) {
				return false, nil
			}
		}
		return true, nil
	}

	archivos := make([]Archivo, 0)
	appendFile := func(path, name string) error {
		ok, err := matches(name)
		if err != nil {
			return err
		}
		if ok {
			archivos = append(archivos, Archivo{Nombre: name, Ruta: path, Extension: filepath.Ext(name)})
		}
		return nil
	}

	if in.IncluirSubdirectorios {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return appendFile(path, d.Name())
		})
		if err != nil {
			return nil, err
		}
		return archivos, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := appendFile(filepath.Join(dir, e.Name()), e.Name()); err != nil {
			return nil, err
		}
	}
	return archivos, nil
}
