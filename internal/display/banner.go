package display

import (
	"fmt"
	"io"

	"github.com/backmassage/framemerge/internal/term"
)

const banner = `  __                                                    
 / _|_ __ __ _ _ __ ___   ___ _ __ ___   ___ _ __ __ _  ___ 
| |_| '__/ _` + "`" + ` | '_ ` + "`" + ` _ \ / _ \ '_ ` + "`" + ` _ \ / _ \ '__/ _` + "`" + ` |/ _ \
|  _| | | (_| | | | | | |  __/ | | | | |  __/ | | (_| |  __/
|_| |_|  \__,_|_| |_| |_|\___|_| |_| |_|\___|_|  \__, |\___|
                                                 |___/      
`

// PrintBanner writes the ASCII art banner to w in magenta when colors are on.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, term.Magenta.Sprint(banner))
}
