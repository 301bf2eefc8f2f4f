// Package visq implements the query orchestration core of a visual search
// frontend: it turns user queries into backend executions, tracks their
// progress, and caches both ranked result lists and the computational
// artifacts (classifiers, annotations, features) behind them.
//
// # Quick Start
//
//	orc, err := visq.New(
//	    visq.WithEngine("cpuvisor-srv", visq.EngineConfig{Host: "localhost", Port: 35215}),
//	    visq.WithPaths(compdata.Paths{
//	        Classifiers:   "/data/classifiers",
//	        PosTrainImgs:  "/data/postrainimgs",
//	        PosTrainAnno:  "/data/postrainanno",
//	        PosTrainFeats: "/data/postrainfeats",
//	        UploadedImgs:  "/data/uploadedimgs",
//	        Datasets:      "/data/datasets",
//	    }),
//	    visq.WithResultsDir("/data/resultcache"),
//	    visq.WithLogger(visq.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orc.Close()
//
// Start a query and poll for its results:
//
//	q, _ := query.New(query.Text, query.TextDef("cat"), "animals", "cpuvisor-srv")
//	st, err := orc.StartQuery(ctx, q, userSesID, false)
//	for !st.State.Terminal() {
//	    time.Sleep(time.Second)
//	    st, err = orc.Status(st.QID)
//	}
//	rlist, err := orc.Result(ctx, st, querySesID, userSesID)
//
// Identical queries started concurrently share one worker and one backend
// execution; results are retrievable exactly once per execution and land
// in a tiered cache (memory, disk, per-user session) afterwards.
package visq
