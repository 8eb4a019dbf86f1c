package main

import (
	"fmt"
	"os"

	"github.com/buger/jsonparser"
	"github.com/urfave/cli/v2"

	"github.com/zhangzqs/shardpager-go"
)

// readSeedFile parses {"<partition key>": [records...], ...} keeping the
// partitions in file order.
func readSeedFile(path string) ([]string, map[string][]shardpager.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var keys []string
	lists := make(map[string][]shardpager.Record)
	err = jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Array {
			return fmt.Errorf("partition %s: expected an array of records", key)
		}
		pk := string(key)
		if _, err := shardpager.ParsePartitionKey(pk); err != nil {
			return err
		}
		records := []shardpager.Record{}
		var perr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
			if perr != nil {
				return
			}
			rec, err := shardpager.ParseRecord(v)
			if err != nil {
				perr = fmt.Errorf("partition %s: %w", pk, err)
				return
			}
			records = append(records, rec)
		})
		if err != nil {
			return err
		}
		if perr != nil {
			return perr
		}
		if _, dup := lists[pk]; !dup {
			keys = append(keys, pk)
		}
		lists[pk] = records
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return keys, lists, nil
}

func seed(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("KEY and FILE are needed")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()
	key, path := c.Args().Get(0), c.Args().Get(1)

	keys, lists, err := readSeedFile(path)
	if err != nil {
		return err
	}
	total := c.Int64("total")
	if total == 0 {
		for _, records := range lists {
			total += int64(len(records))
		}
	}
	if err := e.cache.Register(c.Context, key, total); err != nil {
		return err
	}
	for _, pk := range keys {
		if err := e.cache.PutPartition(c.Context, key, pk, lists[pk]); err != nil {
			return err
		}
		logger.Debugf("published %s with %d records", pk, len(lists[pk]))
	}
	logger.Infof("seeded %s: %d partitions, total %d", key, len(keys), total)
	return nil
}

func seedFlags() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "publish partition results from a JSON file, as partition workers would",
		ArgsUsage: "KEY FILE",
		Action:    seed,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "total",
				Usage: "expected total record count (default: records in FILE)",
			},
		},
	}
}

func progress(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("KEY is needed")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	p, ok, err := e.cache.Progress(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no query cached under %s", c.Args().Get(0))
	}
	printJson(struct {
		Fetched int64 `json:"fetched"`
		Total   int64 `json:"total"`
		Done    bool  `json:"done"`
	}{p.Fetched, p.Total, p.Done()})
	return nil
}

func progressFlags() *cli.Command {
	return &cli.Command{
		Name:      "progress",
		Usage:     "show how many records the partition workers have fetched",
		ArgsUsage: "KEY",
		Action:    progress,
	}
}

func page(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("KEY is needed")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	order, err := e.conf.order()
	if err != nil {
		return err
	}
	sortFields, err := shardpager.ParseSortFields(c.String("sort"))
	if err != nil {
		return err
	}
	pager := shardpager.NewPager(e.cache, order, e.opts)
	result, err := pager.PageToken(c.Context, shardpager.PageRequest{
		CacheKey:      c.Args().Get(0),
		Rows:          c.Int("rows"),
		RealReturnNum: c.Int64("nums"),
		Sort:          sortFields,
	}, c.String("cursor"))
	if err != nil {
		return err
	}
	data, err := pager.Render(result)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func pageFlags() *cli.Command {
	return &cli.Command{
		Name:      "page",
		Usage:     "print one page of results wrapped in the response envelope",
		ArgsUsage: "KEY",
		Action:    page,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "continuation token of the previous page",
			},
			&cli.IntFlag{
				Name:  "rows",
				Value: 10,
				Usage: "records per page",
			},
			&cli.Int64Flag{
				Name:     "nums",
				Required: true,
				Usage:    "records the whole query may return",
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "sort the page by fields, e.g. price:desc,id",
			},
		},
	}
}

func export(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("KEY is needed")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	format, err := shardpager.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	dir, err := shardpager.NewExporter(e.cache, e.opts).Export(c.Context, shardpager.ExportRequest{
		CacheKey:       c.Args().Get(0),
		RealReturnNum:  c.Int64("nums"),
		Format:         format,
		Dir:            c.String("dir"),
		SingleFileSize: c.Int64("file-size"),
	})
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

func exportFlags() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "wait for the query to finish and dump its results into files",
		ArgsUsage: "KEY",
		Action:    export,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Value: "json",
				Usage: "file format (json, csv, xml)",
			},
			&cli.StringFlag{
				Name:     "dir",
				Required: true,
				Usage:    "destination directory",
			},
			&cli.Int64Flag{
				Name:     "nums",
				Required: true,
				Usage:    "records to export",
			},
			&cli.Int64Flag{
				Name:  "file-size",
				Usage: "records per file (default: derived from --nums)",
			},
		},
	}
}
