package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grokify/omnicas"
)

// Tag and attribute names used for files stored by clip put.
const (
	fileTagName   = "file"
	attrFilename  = "filename"
	attrSize      = "size"
	attrModTime   = "modtime"
	attrCreatedBy = "created_by"
)

func (a *app) clipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clip",
		Short: "Write, read and delete clips",
	}
	cmd.AddCommand(
		a.clipPutCmd(),
		a.clipGetCmd(),
		a.clipRmCmd(),
		&cobra.Command{
			Use:   "exists <id>",
			Short: "Report whether a clip exists",
			Args:  cobra.ExactArgs(1),
			RunE:  a.clipExists,
		},
		&cobra.Command{
			Use:   "info <id>",
			Short: "Print clip metadata",
			Args:  cobra.ExactArgs(1),
			RunE:  a.clipInfo,
		},
		&cobra.Command{
			Use:   "export <id> <file>",
			Short: "Write a clip's raw descriptor to a file",
			Args:  cobra.ExactArgs(2),
			RunE:  a.clipExport,
		},
		&cobra.Command{
			Use:   "import <id> <file>",
			Short: "Write a clip from a raw descriptor exported with clip export",
			Args:  cobra.ExactArgs(2),
			RunE:  a.clipImport,
		},
	)
	return cmd
}

func (a *app) clipPutCmd() *cobra.Command {
	var (
		name      string
		attrs     map[string]string
		retention time.Duration
		class     string
		hold      string
	)
	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Store files as one clip and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			clip, err := pool.ClipCreate(name)
			if err != nil {
				return err
			}
			defer func() { _ = clip.Close() }()

			for _, k := range sortedKeys(attrs) {
				if err := clip.SetDescriptionAttribute(k, attrs[k]); err != nil {
					return err
				}
			}
			if err := clip.SetDescriptionAttribute(attrCreatedBy, "omnicas"); err != nil {
				return err
			}
			if err := applyRetention(pool, clip, retention, class, hold); err != nil {
				return err
			}

			top, err := clip.TopTag()
			if err != nil {
				return err
			}
			for _, path := range args {
				if err := putFile(ctx, top, path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			id, err := clip.Write(ctx)
			if err != nil {
				return err
			}
			size, _ := clip.TotalSize()
			a.logger.Info("clip written", "id", id, "files", len(args), "size", size)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "clip name (default: first file name)")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "description attribute name=value")
	cmd.Flags().DurationVar(&retention, "retention", 0, "fixed retention period")
	cmd.Flags().StringVar(&class, "class", "", "retention class name")
	cmd.Flags().StringVar(&hold, "hold", "", "place a retention hold with this id")
	return cmd
}

func applyRetention(pool *omnicas.Pool, clip *omnicas.Clip, period time.Duration, class, hold string) error {
	if class != "" {
		classes, err := pool.RetentionClasses()
		if err != nil {
			return err
		}
		defer func() { _ = classes.Close() }()
		rc, err := classes.Named(class)
		if err != nil {
			return fmt.Errorf("retention class %q: %w", class, err)
		}
		if err := clip.SetRetentionClass(rc); err != nil {
			return err
		}
	} else if period != 0 {
		if err := clip.SetRetentionPeriod(period); err != nil {
			return err
		}
	}
	if hold != "" {
		return clip.SetRetentionHold(true, hold)
	}
	return nil
}

func putFile(ctx context.Context, parent *omnicas.Tag, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	tag, err := parent.CreateChild(fileTagName)
	if err != nil {
		return err
	}
	if err := tag.SetStringAttribute(attrFilename, filepath.Base(path)); err != nil {
		return err
	}
	if err := tag.SetLongAttribute(attrSize, fi.Size()); err != nil {
		return err
	}
	if err := tag.SetStringAttribute(attrModTime, fi.ModTime().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tag.WriteBlobFrom(ctx, f)
}

func (a *app) clipGetCmd() *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:   "get <id> <file>",
		Short: "Write a stored file to disk",
		Long:  "Write the first stored file of a clip, or the one named by --file, to disk.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			clip, err := pool.ClipOpen(ctx, args[0], omnicas.OpenAsTree)
			if err != nil {
				return err
			}
			defer func() { _ = clip.Close() }()

			tag, err := findFileTag(clip, filename)
			if err != nil {
				return err
			}
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			n, err := tag.ReadBlobTo(ctx, out)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[1], humanize.IBytes(uint64(n)))
			return nil
		},
	}
	cmd.Flags().StringVar(&filename, "file", "", "stored file name to read")
	return cmd
}

// findFileTag returns the first child of the top tag that holds a blob and,
// when filename is set, carries that file name.
func findFileTag(clip *omnicas.Clip, filename string) (*omnicas.Tag, error) {
	top, err := clip.TopTag()
	if err != nil {
		return nil, err
	}
	tag, err := top.FirstChild()
	for err == nil && tag != nil {
		status, serr := tag.BlobStatus()
		if serr != nil {
			return nil, serr
		}
		if status == omnicas.BlobOK {
			if filename == "" {
				return tag, nil
			}
			if name, _ := tag.StringAttribute(attrFilename); name == filename {
				return tag, nil
			}
		}
		tag, err = tag.NextSibling()
	}
	if err != nil {
		return nil, err
	}
	if filename != "" {
		return nil, fmt.Errorf("clip has no file %q", filename)
	}
	return nil, errNoFiles
}

var errNoFiles = errors.New("clip has no stored files")

func (a *app) clipRmCmd() *cobra.Command {
	var (
		reason     string
		privileged bool
	)
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			if reason == "" && !privileged {
				err = pool.ClipDelete(ctx, args[0])
			} else {
				opts := omnicas.OptionDefault
				if privileged {
					opts = omnicas.OptionPrivilegedDelete
				}
				err = pool.ClipAuditedDelete(ctx, args[0], reason, opts)
			}
			if err != nil {
				return err
			}
			a.logger.Info("clip deleted", "id", args[0], "reason", reason, "privileged", privileged)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason recorded with the deletion")
	cmd.Flags().BoolVar(&privileged, "privileged", false, "delete a clip still under retention")
	return cmd
}

func (a *app) clipExists(cmd *cobra.Command, args []string) error {
	pool, err := a.openPool(cmd.Context())
	if err != nil {
		return err
	}
	ok, err := pool.ClipExists(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	return nil
}

func (a *app) clipInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	clip, err := pool.ClipOpen(ctx, args[0], omnicas.OpenAsTree)
	if err != nil {
		return err
	}
	defer func() { _ = clip.Close() }()

	name, err := clip.Name()
	if err != nil {
		return err
	}
	created, err := clip.CreationDate()
	if err != nil {
		return err
	}
	size, err := clip.TotalSize()
	if err != nil {
		return err
	}
	tags, _ := clip.NumTags()
	blobs, _ := clip.NumBlobs()
	period, _ := clip.RetentionPeriod()
	expiry, _ := clip.RetentionExpiry()
	class, _ := clip.RetentionClassName()
	hold, _ := clip.OnHold()
	ebr, _ := clip.IsEBREnabled()
	attrs, err := clip.DescriptionAttributes()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", args[0])
	fmt.Fprintf(w, "Name\t%s\n", name)
	fmt.Fprintf(w, "Created\t%s\n", omnicas.FormatClusterTime(created))
	fmt.Fprintf(w, "Size\t%s\n", humanize.IBytes(uint64(size)))
	fmt.Fprintf(w, "Tags\t%d\n", tags)
	fmt.Fprintf(w, "Blobs\t%d\n", blobs)
	fmt.Fprintf(w, "Retention\t%s\n", formatPeriod(period))
	if !expiry.IsZero() {
		fmt.Fprintf(w, "Expires\t%s\n", omnicas.FormatClusterTime(expiry))
	}
	if class != "" {
		fmt.Fprintf(w, "Class\t%s\n", class)
	}
	fmt.Fprintf(w, "Hold\t%t\n", hold)
	fmt.Fprintf(w, "EBR\t%t\n", ebr)
	for _, k := range attrs.Names() {
		v, _ := attrs.Get(k)
		fmt.Fprintf(w, "  %s\t%s\n", k, v)
	}
	return w.Flush()
}

func (a *app) clipExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	clip, err := pool.ClipOpen(ctx, args[0], omnicas.OpenAsTree)
	if err != nil {
		return err
	}
	defer func() { _ = clip.Close() }()

	out, err := a.session.NewFileOutputStream(args[1], "wb")
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	return clip.RawRead(ctx, out)
}

func (a *app) clipImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	in, err := a.session.NewFileInputStream(args[1], 0)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	clip, err := pool.ClipRawOpen(ctx, args[0], in, omnicas.OptionDefault)
	if err != nil {
		return err
	}
	defer func() { _ = clip.Close() }()
	id, err := clip.Write(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
